package bot

import (
	"context"
	"log"
	"time"

	"pixbot/internal/store"
)

// Janitor periodically removes PENDING sessions whose gateway-side
// intent expired long ago, freeing the user key. The cutoff is well
// past the whole reminder campaign so a late remarket reminder still
// finds its session; reminders for a swept session drop themselves at
// fire time anyway.
type Janitor struct {
	sessions store.SessionStore
	interval time.Duration
	maxAge   time.Duration
}

// NewJanitor creates a sweep with sane defaults (hourly, 24h max age)
func NewJanitor(sessions store.SessionStore) *Janitor {
	return &Janitor{
		sessions: sessions,
		interval: time.Hour,
		maxAge:   24 * time.Hour,
	}
}

// Run sweeps on a ticker until the context is cancelled
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	removed, err := j.sessions.DeleteStalePending(ctx, time.Now().Add(-j.maxAge))
	if err != nil {
		log.Printf("Stale session sweep failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Swept %d stale pending sessions", removed)
	}
}
