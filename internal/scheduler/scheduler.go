package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Validator reports whether sessionID is still the active PENDING
// session for userKey. Absence of tracked state at fire time is a
// normal outcome, not an error: the reminder is simply dropped.
type Validator interface {
	StillPending(ctx context.Context, userKey, sessionID string) bool
}

type reminder struct {
	userKey   string
	sessionID string
	kind      Kind
	timer     *time.Timer
	cancelled bool // guarded by Scheduler.mu
}

// Handle allows cancelling a single scheduled reminder
type Handle struct {
	s *Scheduler
	r *reminder
}

// Cancel stops this reminder. A reminder whose callback has not yet
// started producing output will no-op after Cancel returns.
func (h *Handle) Cancel() {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.cancelLocked(h.r)
}

// Scheduler tracks cancellable delayed reminders per user key. Firing
// runs on independent timers; validity is re-checked against the
// session store at fire time, so a reminder scheduled for a session
// that has since been settled or replaced drops itself silently.
type Scheduler struct {
	mu        sync.Mutex
	reminders map[string][]*reminder
	registry  *Registry
	validator Validator
}

// New creates a scheduler firing through the given registry
func New(registry *Registry, validator Validator) *Scheduler {
	return &Scheduler{
		reminders: make(map[string][]*reminder),
		registry:  registry,
		validator: validator,
	}
}

// Schedule registers a delayed reminder and returns without blocking
func (s *Scheduler) Schedule(userKey, sessionID string, delay time.Duration, kind Kind) *Handle {
	r := &reminder{
		userKey:   userKey,
		sessionID: sessionID,
		kind:      kind,
	}

	s.mu.Lock()
	r.timer = time.AfterFunc(delay, func() { s.fire(r) })
	s.reminders[userKey] = append(s.reminders[userKey], r)
	s.mu.Unlock()

	return &Handle{s: s, r: r}
}

// CancelAll cancels every tracked reminder for the user key. Once it
// returns, no not-yet-started callback for that user will produce
// user-visible output; callbacks already past their validity check
// may still complete.
func (s *Scheduler) CancelAll(userKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.reminders[userKey] {
		r.cancelled = true
		r.timer.Stop()
	}
	delete(s.reminders, userKey)
}

// Pending reports how many reminders are tracked for the user key
func (s *Scheduler) Pending(userKey string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reminders[userKey])
}

func (s *Scheduler) cancelLocked(r *reminder) {
	r.cancelled = true
	r.timer.Stop()
	tracked := s.reminders[r.userKey]
	for i, other := range tracked {
		if other == r {
			s.reminders[r.userKey] = append(tracked[:i], tracked[i+1:]...)
			break
		}
	}
	if len(s.reminders[r.userKey]) == 0 {
		delete(s.reminders, r.userKey)
	}
}

func (s *Scheduler) fire(r *reminder) {
	s.mu.Lock()
	if r.cancelled {
		s.mu.Unlock()
		return
	}
	// the reminder is running now; stop tracking it
	s.cancelLocked(r)
	s.mu.Unlock()

	ctx := context.Background()
	if !s.validator.StillPending(ctx, r.userKey, r.sessionID) {
		return
	}

	fn, ok := s.registry.Get(r.kind)
	if !ok {
		log.Printf("No handler registered for reminder kind %q", r.kind)
		return
	}
	fn(ctx, r.userKey, r.sessionID, r.kind)
}
