package bot

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"pixbot/internal/models"
	"pixbot/internal/scheduler"
	"pixbot/internal/services"
	"pixbot/internal/store"
)

// SalesCounterKey is the Redis key mirroring the sales total
const SalesCounterKey = "stats:sales_total"

// duplicateWindow suppresses repeat purchase clicks that arrive while
// a just-created session of the same stage is still fresh
const duplicateWindow = 30 * time.Second

// Gateway is the payment-provider surface the orchestrator needs
type Gateway interface {
	CreateIntent(ctx context.Context, amount string, buyer services.BuyerInfo) (*services.PaymentIntent, error)
	ChargeStatus(ctx context.Context, chargeRef string) (string, error)
}

// Transport delivers messages to the buyer's chat
type Transport interface {
	SendMessage(chatID, text string, buttons ...services.InlineButton) error
	SendPhoto(chatID string, image []byte, caption string, buttons ...services.InlineButton) error
}

// Renderer builds the deliverable payment prompt
type Renderer interface {
	Render(ctx context.Context, artifact services.PaymentArtifact, instructions string) (*services.RenderedPayment, error)
}

// AccessFunc delivers the purchased access after settlement
type AccessFunc func(ctx context.Context, userKey string) error

// Orchestrator drives the payment session state machine. All
// operations for one user key are serialized behind a per-key mutex
// so a double-click, a status check, and a firing reminder can never
// leave the store and the scheduler disagreeing about the current
// session.
type Orchestrator struct {
	gateway  Gateway
	sessions store.SessionStore
	sales    store.SaleLog
	renderer Renderer
	chat     Transport
	sched    *scheduler.Scheduler
	cache    *services.RedisCache
	campaign Campaign
	events   *EventLog
	deliver  AccessFunc

	locks sync.Map // userKey -> *sync.Mutex
}

// NewOrchestrator wires the session lifecycle together. cache and
// events may be nil; deliver must not be.
func NewOrchestrator(gateway Gateway, sessions store.SessionStore, sales store.SaleLog, renderer Renderer, chat Transport, campaign Campaign, cache *services.RedisCache, events *EventLog, deliver AccessFunc) *Orchestrator {
	return &Orchestrator{
		gateway:  gateway,
		sessions: sessions,
		sales:    sales,
		renderer: renderer,
		chat:     chat,
		cache:    cache,
		campaign: campaign,
		events:   events,
		deliver:  deliver,
	}
}

// AttachScheduler registers the reminder fire functions and hands the
// orchestrator the scheduler it cancels on settlement and replacement
func (o *Orchestrator) AttachScheduler(sched *scheduler.Scheduler, registry *scheduler.Registry) {
	o.sched = sched
	registry.Register(scheduler.KindNudge, o.fireNudge)
	registry.Register(scheduler.KindRemarket, o.fireRemarket)
}

func (o *Orchestrator) userLock(userKey string) *sync.Mutex {
	mu, _ := o.locks.LoadOrStore(userKey, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// StillPending implements scheduler.Validator. It holds the user lock
// only for the store check; the scheduler performs reminder I/O after
// this returns, outside the lock.
func (o *Orchestrator) StillPending(ctx context.Context, userKey, sessionID string) bool {
	mu := o.userLock(userKey)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.sessions.FindActive(ctx, userKey)
	if err != nil {
		log.Printf("Reminder validity check failed for user %s: %v", userKey, err)
		return false
	}
	return sess != nil && sess.SessionID == sessionID && sess.Status == models.SessionStatusPending
}

// StartPurchase creates a payment intent and opens a new session for
// the user, destructively replacing any prior one. stage 0 is the
// initial offer; higher stages are discounted remarket offers.
func (o *Orchestrator) StartPurchase(ctx context.Context, userKey, buyerLabel string, stage int) error {
	mu := o.userLock(userKey)
	mu.Lock()
	defer mu.Unlock()

	existing, err := o.sessions.FindActive(ctx, userKey)
	if err != nil {
		o.sendFailure(userKey)
		return err
	}
	// a just-created session of the same stage means this click is a
	// duplicate (double-click, retry after a hiccup); point the buyer
	// at the status check instead of orphaning another intent
	if existing != nil && existing.Stage == stage &&
		existing.Status == models.SessionStatusPending &&
		time.Since(existing.CreatedAt) < duplicateWindow {
		o.send(userKey, o.campaign.PendingText, services.InlineButton{Label: o.campaign.CheckLabel, Action: ActionCheck})
		return nil
	}

	o.send(userKey, o.campaign.GeneratingText)

	amount := o.campaign.Price
	if stage > 0 {
		amount = o.campaign.RemarketPrice
	}

	intent, err := o.gateway.CreateIntent(ctx, amount, services.BuyerInfo{
		Name:     buyerLabel,
		Email:    getEnv("BUYER_FALLBACK_EMAIL", "buyer@example.com"),
		Document: getEnv("BUYER_FALLBACK_DOCUMENT", "00000000000"),
	})
	if err != nil {
		o.sendFailure(userKey)
		return err
	}

	sess := &models.Session{
		SessionID:  intent.IntentID,
		UserKey:    userKey,
		ChargeRef:  intent.ChargeRef,
		BuyerLabel: buyerLabel,
		Status:     models.SessionStatusPending,
		Stage:      stage,
		CreatedAt:  time.Now(),
	}

	// replacing the row orphans the old intent; its reminders must die with it
	o.sched.CancelAll(userKey)
	if err := o.sessions.Replace(ctx, userKey, sess); err != nil {
		o.sendFailure(userKey)
		return err
	}

	o.sched.Schedule(userKey, sess.SessionID, o.campaign.NudgeDelay, scheduler.KindNudge)
	o.sched.Schedule(userKey, sess.SessionID, o.campaign.RemarketDelay, scheduler.KindRemarket)

	rendered, err := o.renderer.Render(ctx, intent.Artifact, o.campaign.PixInstructions)
	if err != nil {
		// delivery aborted; the session stays pending so the buyer can
		// still check status once the artifact is reachable again
		o.sendFailure(userKey)
		return err
	}

	if err := o.chat.SendPhoto(userKey, rendered.Image, rendered.Caption, services.InlineButton{Label: o.campaign.CheckLabel, Action: ActionCheck}); err != nil {
		if errors.Is(err, services.ErrRecipientUnreachable) {
			o.events.Blocked(sess)
		}
		return err
	}
	return nil
}

// CheckStatus polls the gateway for the user's pending session and
// finalizes it when the charge is paid
func (o *Orchestrator) CheckStatus(ctx context.Context, userKey string) error {
	mu := o.userLock(userKey)
	mu.Lock()
	defer mu.Unlock()

	sess, err := o.sessions.FindActive(ctx, userKey)
	if err != nil {
		o.sendFailure(userKey)
		return err
	}
	if sess == nil {
		o.send(userKey, o.campaign.NoSessionText, services.InlineButton{Label: o.campaign.BuyLabel, Action: ActionBuy})
		return nil
	}

	status, err := o.gateway.ChargeStatus(ctx, sess.ChargeRef)
	if err != nil {
		// transport failure reads as "unknown", never as "failed"
		log.Printf("Status check failed for charge %s: %v", sess.ChargeRef, err)
		status = services.StatusUnknown
	}

	if status != services.StatusPaid {
		o.send(userKey, o.campaign.PendingText, services.InlineButton{Label: o.campaign.CheckLabel, Action: ActionCheck})
		o.events.NotSettled(sess)
		return nil
	}

	return o.finalize(ctx, sess)
}

// ConfirmSettlement finalizes the session holding the given charge.
// It backs the gateway webhook path and trusts the charge ref only
// after re-reading the active session under the user lock.
func (o *Orchestrator) ConfirmSettlement(ctx context.Context, chargeRef string) error {
	sess, err := o.sessions.FindByChargeRef(ctx, chargeRef)
	if err != nil {
		return err
	}
	if sess == nil {
		// already finalized, or the charge was never ours
		return nil
	}

	mu := o.userLock(sess.UserKey)
	mu.Lock()
	defer mu.Unlock()

	current, err := o.sessions.FindActive(ctx, sess.UserKey)
	if err != nil {
		return err
	}
	if current == nil || current.SessionID != sess.SessionID {
		// replaced or settled while we acquired the lock
		return nil
	}
	return o.finalize(ctx, current)
}

// finalize must run under the user lock. It is tolerant of losing the
// race to another completion: a NotFound from the store means the
// session was already finalized and there is nothing left to do.
func (o *Orchestrator) finalize(ctx context.Context, sess *models.Session) error {
	o.sched.CancelAll(sess.UserKey)

	if err := o.sessions.MarkSettled(ctx, sess.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return err
	}

	amount := o.campaign.Price
	if sess.Stage > 0 {
		amount = o.campaign.RemarketPrice
	}
	cents, err := services.ToMinorUnits(amount)
	if err != nil {
		log.Printf("Unparseable campaign price %q: %v", amount, err)
	}

	sale := &models.Sale{
		UserKey:     sess.UserKey,
		SessionID:   sess.SessionID,
		ChargeRef:   sess.ChargeRef,
		BuyerLabel:  sess.BuyerLabel,
		AmountCents: cents,
		SettledAt:   time.Now(),
	}
	if err := o.sales.Record(ctx, sale); err != nil {
		log.Printf("Failed to record sale for session %s: %v", sess.SessionID, err)
	}
	if o.cache != nil {
		if _, err := o.cache.Increment(ctx, SalesCounterKey); err != nil {
			log.Printf("Failed to increment sales counter: %v", err)
		}
	}

	if err := o.sessions.Delete(ctx, sess.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("Failed to delete settled session %s: %v", sess.SessionID, err)
	}

	o.send(sess.UserKey, o.campaign.SettledText)
	if err := o.deliver(ctx, sess.UserKey); err != nil {
		log.Printf("Access delivery failed for user %s: %v", sess.UserKey, err)
	}
	o.events.Settled(sess)
	return nil
}

// fireNudge sends the early "not paid yet" reminder. Validity was
// checked by the scheduler just before this call.
func (o *Orchestrator) fireNudge(ctx context.Context, userKey, sessionID string, _ scheduler.Kind) {
	err := o.chat.SendMessage(userKey, o.campaign.NudgeText, services.InlineButton{Label: o.campaign.CheckLabel, Action: ActionCheck})
	if err != nil {
		log.Printf("Nudge delivery failed for user %s: %v", userKey, err)
	}
}

// fireRemarket advances the remarketing stage and offers the discount
func (o *Orchestrator) fireRemarket(ctx context.Context, userKey, sessionID string, _ scheduler.Kind) {
	if err := o.sessions.AdvanceStage(ctx, sessionID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("Failed to advance stage for session %s: %v", sessionID, err)
		}
		return
	}
	err := o.chat.SendMessage(userKey, o.campaign.RemarketText, services.InlineButton{Label: o.campaign.RemarketLabel, Action: ActionRemarket})
	if err != nil {
		log.Printf("Remarket delivery failed for user %s: %v", userKey, err)
	}
}

func (o *Orchestrator) send(userKey, text string, buttons ...services.InlineButton) {
	if err := o.chat.SendMessage(userKey, text, buttons...); err != nil {
		log.Printf("Message delivery failed for user %s: %v", userKey, err)
	}
}

func (o *Orchestrator) sendFailure(userKey string) {
	o.send(userKey, o.campaign.FailureText)
}
