package bot

import (
	"fmt"
	"log"
	"time"

	"pixbot/internal/models"
)

// EventLog reports notable flow events to the operator's log channel.
// A nil *EventLog is valid and drops everything, so wiring it is
// optional.
type EventLog struct {
	chat      Transport
	channelID string
	location  *time.Location
}

// NewEventLog creates an operator event log targeting a chat channel
func NewEventLog(chat Transport, channelID string) *EventLog {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		loc = time.UTC
	}
	return &EventLog{chat: chat, channelID: channelID, location: loc}
}

func (e *EventLog) post(message string) {
	if e == nil || e.channelID == "" {
		return
	}
	if err := e.chat.SendMessage(e.channelID, message); err != nil {
		log.Printf("Failed to post operator event: %v", err)
	}
}

func (e *EventLog) stamp() string {
	if e == nil {
		return ""
	}
	return time.Now().In(e.location).Format("15:04:05")
}

// Started reports a buyer opening the bot
func (e *EventLog) Started(name, username string) {
	if name == "" && username == "" {
		return
	}
	e.post(fmt.Sprintf("BOT STARTED\nLead: %s\nUser: @%s\nTime: %s", name, username, e.stamp()))
}

// Settled reports a completed purchase
func (e *EventLog) Settled(sess *models.Session) {
	if sess == nil {
		return
	}
	e.post(fmt.Sprintf("PURCHASE SETTLED\nUser: @%s\nTime: %s", sess.BuyerLabel, e.stamp()))
}

// NotSettled reports a status check that found the charge unpaid
func (e *EventLog) NotSettled(sess *models.Session) {
	if sess == nil {
		return
	}
	e.post(fmt.Sprintf("PURCHASE NOT SETTLED\nUser: @%s\nTime: %s", sess.BuyerLabel, e.stamp()))
}

// Blocked reports a recipient that can no longer be reached
func (e *EventLog) Blocked(sess *models.Session) {
	if sess == nil {
		return
	}
	e.post(fmt.Sprintf("USER BLOCKED THE BOT\nUser: @%s\nTime: %s", sess.BuyerLabel, e.stamp()))
}
