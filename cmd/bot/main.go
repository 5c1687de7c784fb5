package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"pixbot/internal/bot"
	"pixbot/internal/handlers"
	"pixbot/internal/scheduler"
	"pixbot/internal/services"
	"pixbot/internal/store"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment")
	}

	if os.Getenv("TELEGRAM_BOT_TOKEN") == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN not set")
	}
	if os.Getenv("PAGARME_SECRET_KEY") == "" {
		log.Fatal("PAGARME_SECRET_KEY not set")
	}

	// Session storage: Postgres when configured, in-memory otherwise
	var (
		sessions store.SessionStore
		sales    store.SaleLog
	)
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := services.InitDB(databaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := services.AutoMigrate(db); err != nil {
			log.Fatalf("Failed to run database migrations: %v", err)
		}
		gs := store.NewGormStore(db)
		sessions, sales = gs, gs
	} else {
		log.Println("Warning: DATABASE_URL not set, sessions will not survive a restart")
		ms := store.NewMemoryStore()
		sessions, sales = ms, ms
	}

	// Redis is optional; it only mirrors the sales counter
	var cache *services.RedisCache
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		var err error
		cache, err = services.NewRedisCache(redisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer cache.Close()
	}

	gateway := services.NewPagarmeService()
	transport := services.NewTelegramService()
	renderer := services.NewPixRenderer()
	campaign := bot.DefaultCampaign()
	events := bot.NewEventLog(transport, os.Getenv("LOG_CHANNEL_ID"))

	accessLinks := os.Getenv("ACCESS_LINKS")
	deliver := func(ctx context.Context, userKey string) error {
		text := campaign.AccessText
		if accessLinks != "" {
			text += "\n\n" + strings.ReplaceAll(accessLinks, "|", "\n")
		}
		return transport.SendMessage(userKey, text)
	}

	orch := bot.NewOrchestrator(gateway, sessions, sales, renderer, transport, campaign, cache, events, deliver)

	registry := scheduler.NewRegistry()
	sched := scheduler.New(registry, orch)
	orch.AttachScheduler(sched, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Println("Shutting down bot...")
		cancel()
	}()

	// HTTP surface: health, stats, gateway webhook
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	handlers.NewWebhookHandler(orch, sales, cache, os.Getenv("WEBHOOK_TOKEN")).Register(e)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	go func() {
		if err := e.Start(":" + port); err != nil {
			log.Printf("HTTP server stopped: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		_ = e.Close()
	}()

	// Stale pending session sweep
	go bot.NewJanitor(sessions).Run(ctx)

	log.Println("Bot is up, polling for updates")
	bot.NewRouter(transport, orch, campaign, events).Run(ctx)
}
