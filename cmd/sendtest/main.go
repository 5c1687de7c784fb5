package main

import (
	"flag"
	"log"

	"github.com/joho/godotenv"

	"pixbot/internal/services"
)

func main() {
	chat := flag.String("chat", "", "Telegram chat id to message")
	msg := flag.String("msg", "Test message from TelegramService", "Message body")
	flag.Parse()

	if *chat == "" {
		log.Fatal("Please provide a chat id using -chat flag")
	}

	// Load envs
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found")
	}

	service := services.NewTelegramService()

	log.Printf("Sending message to %s: %s", *chat, *msg)

	if err := service.SendMessage(*chat, *msg); err != nil {
		log.Fatalf("Failed to send message: %v", err)
	}

	log.Println("Message sent successfully!")
}
