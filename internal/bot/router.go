package bot

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"pixbot/internal/services"
)

// Router consumes transport updates and drives the orchestrator.
// Updates are dispatched concurrently; per-user ordering is enforced
// by the orchestrator's locks, not here.
type Router struct {
	transport *services.TelegramService
	orch      *Orchestrator
	campaign  Campaign
	events    *EventLog
}

// NewRouter creates the update router
func NewRouter(transport *services.TelegramService, orch *Orchestrator, campaign Campaign, events *EventLog) *Router {
	return &Router{
		transport: transport,
		orch:      orch,
		campaign:  campaign,
		events:    events,
	}
}

// Run long-polls for updates until the context is cancelled
func (r *Router) Run(ctx context.Context) {
	var offset int64
	for {
		if ctx.Err() != nil {
			return
		}

		updates, err := r.transport.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("Failed to fetch updates: %v", err)
			time.Sleep(2 * time.Second)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			update := u
			go r.handleUpdate(ctx, update)
		}
	}
}

func (r *Router) handleUpdate(ctx context.Context, u services.TelegramUpdate) {
	switch {
	case u.Message != nil:
		r.handleMessage(ctx, u.Message)
	case u.Callback != nil:
		r.handleCallback(ctx, u.Callback)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *services.TelegramMessage) {
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	switch strings.TrimSpace(msg.Text) {
	case "/start":
		err := r.transport.SendMessage(chatID, r.campaign.WelcomeText,
			services.InlineButton{Label: r.campaign.BuyLabel, Action: ActionBuy})
		if err != nil {
			log.Printf("Failed to send welcome to %s: %v", chatID, err)
			return
		}
		r.events.Started(msg.From.FirstName, msg.From.Username)
	case "/help":
		err := r.transport.SendMessage(chatID, r.campaign.NoSessionText,
			services.InlineButton{Label: r.campaign.CheckLabel, Action: ActionCheck})
		if err != nil {
			log.Printf("Failed to send help to %s: %v", chatID, err)
		}
	}
}

func (r *Router) handleCallback(ctx context.Context, cb *services.TelegramCallback) {
	if err := r.transport.AnswerCallback(cb.ID); err != nil {
		log.Printf("Failed to answer callback %s: %v", cb.ID, err)
	}

	userKey := strconv.FormatInt(cb.From.ID, 10)
	buyerLabel := cb.From.Username
	if buyerLabel == "" {
		buyerLabel = cb.From.FirstName
	}

	var err error
	switch cb.Data {
	case ActionBuy:
		err = r.orch.StartPurchase(ctx, userKey, buyerLabel, 0)
	case ActionRemarket:
		err = r.orch.StartPurchase(ctx, userKey, buyerLabel, 1)
	case ActionCheck:
		err = r.orch.CheckStatus(ctx, userKey)
	default:
		log.Printf("Unknown callback action %q from user %s", cb.Data, userKey)
		return
	}
	if err != nil {
		log.Printf("Action %q failed for user %s: %v", cb.Data, userKey, err)
	}
}
