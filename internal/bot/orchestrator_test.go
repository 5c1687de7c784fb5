package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixbot/internal/models"
	"pixbot/internal/scheduler"
	"pixbot/internal/services"
	"pixbot/internal/store"
)

type fakeGateway struct {
	mu          sync.Mutex
	createCalls int
	statusCalls int
	status      string
	statusErr   error
	createErr   error
}

func (g *fakeGateway) CreateIntent(ctx context.Context, amount string, buyer services.BuyerInfo) (*services.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return nil, g.createErr
	}
	g.createCalls++
	n := g.createCalls
	cents, err := services.ToMinorUnits(amount)
	if err != nil {
		return nil, err
	}
	return &services.PaymentIntent{
		IntentID:    fmt.Sprintf("or_%d", n),
		ChargeRef:   fmt.Sprintf("ch_%d", n),
		AmountCents: cents,
		Artifact: services.PaymentArtifact{
			Code:     "00020126580014br.gov.bcb.pix",
			ImageURL: "https://gateway.example/qr.png",
		},
	}, nil
}

func (g *fakeGateway) ChargeStatus(ctx context.Context, chargeRef string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.statusErr != nil {
		return services.StatusUnknown, g.statusErr
	}
	return g.status, nil
}

func (g *fakeGateway) creates() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createCalls
}

type fakeTransport struct {
	mu       sync.Mutex
	messages []string
	photos   int
}

func (t *fakeTransport) SendMessage(chatID, text string, buttons ...services.InlineButton) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, text)
	return nil
}

func (t *fakeTransport) SendPhoto(chatID string, image []byte, caption string, buttons ...services.InlineButton) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.photos++
	return nil
}

func (t *fakeTransport) countContaining(substr string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var n int
	for _, m := range t.messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

type fakeRenderer struct {
	err error
}

func (r *fakeRenderer) Render(ctx context.Context, artifact services.PaymentArtifact, instructions string) (*services.RenderedPayment, error) {
	if r.err != nil {
		return nil, r.err
	}
	return &services.RenderedPayment{Image: []byte{1}, Caption: "caption"}, nil
}

type fixture struct {
	orch      *Orchestrator
	gateway   *fakeGateway
	chat      *fakeTransport
	sessions  *store.MemoryStore
	sched     *scheduler.Scheduler
	campaign  Campaign
	delivered *atomic.Int64
}

func newFixture(t *testing.T, mutate func(*Campaign)) *fixture {
	t.Helper()

	campaign := DefaultCampaign()
	campaign.NudgeDelay = 10 * time.Millisecond
	campaign.RemarketDelay = 20 * time.Millisecond
	if mutate != nil {
		mutate(&campaign)
	}

	gw := &fakeGateway{status: services.StatusPending}
	chat := &fakeTransport{}
	sessions := store.NewMemoryStore()
	delivered := &atomic.Int64{}

	orch := NewOrchestrator(gw, sessions, sessions, &fakeRenderer{}, chat, campaign, nil, nil,
		func(ctx context.Context, userKey string) error {
			delivered.Add(1)
			return nil
		})

	registry := scheduler.NewRegistry()
	sched := scheduler.New(registry, orch)
	orch.AttachScheduler(sched, registry)

	return &fixture{
		orch:      orch,
		gateway:   gw,
		chat:      chat,
		sessions:  sessions,
		sched:     sched,
		campaign:  campaign,
		delivered: delivered,
	}
}

func TestStartPurchaseOpensSession(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))

	sess, err := f.sessions.FindActive(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "or_1", sess.SessionID)
	assert.Equal(t, "ch_1", sess.ChargeRef)
	assert.Equal(t, models.SessionStatusPending, sess.Status)
	assert.Equal(t, 0, sess.Stage)

	assert.Equal(t, 1, f.gateway.creates())
	assert.Equal(t, 2, f.sched.Pending("u1"))

	f.chat.mu.Lock()
	photos := f.chat.photos
	f.chat.mu.Unlock()
	assert.Equal(t, 1, photos)
}

func TestDoubleClickCreatesOneIntent(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.orch.StartPurchase(ctx, "u1", "buyer", 0)
		}()
	}
	wg.Wait()

	// one click won; the duplicate was suppressed
	assert.Equal(t, 1, f.gateway.creates())

	sess, err := f.sessions.FindActive(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "or_1", sess.SessionID)
}

func TestCheckStatusPendingLeavesSessionAlone(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))
	require.NoError(t, f.orch.CheckStatus(ctx, "u1"))

	sess, _ := f.sessions.FindActive(ctx, "u1")
	require.NotNil(t, sess)
	assert.Equal(t, models.SessionStatusPending, sess.Status)
	assert.Equal(t, int64(0), f.delivered.Load())
	assert.Equal(t, 1, f.chat.countContaining(f.campaign.PendingText))
}

func TestCheckStatusUnknownReadsAsPending(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))
	f.gateway.statusErr = &services.GatewayRequestError{Op: "charge status", Err: errors.New("timeout")}

	require.NoError(t, f.orch.CheckStatus(ctx, "u1"))

	sess, _ := f.sessions.FindActive(ctx, "u1")
	require.NotNil(t, sess)
	assert.Equal(t, models.SessionStatusPending, sess.Status)
	assert.Equal(t, int64(0), f.delivered.Load())
}

func TestCheckStatusPaidFinalizes(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))
	f.gateway.status = services.StatusPaid

	require.NoError(t, f.orch.CheckStatus(ctx, "u1"))

	sess, _ := f.sessions.FindActive(ctx, "u1")
	assert.Nil(t, sess, "settled session must be deleted")
	assert.Equal(t, 0, f.sched.Pending("u1"), "reminders must be cancelled")
	assert.Equal(t, int64(1), f.delivered.Load())

	total, err := f.sessions.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// a follow-up check finds nothing and delivers nothing extra
	require.NoError(t, f.orch.CheckStatus(ctx, "u1"))
	assert.Equal(t, int64(1), f.delivered.Load())
	assert.Equal(t, 1, f.chat.countContaining(f.campaign.NoSessionText))
}

func TestRemarketPurchaseReplacesSession(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = 50 * time.Millisecond; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))
	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 1))

	sess, _ := f.sessions.FindActive(ctx, "u1")
	require.NotNil(t, sess)
	assert.Equal(t, "ch_2", sess.ChargeRef, "second intent owns the session")
	assert.Equal(t, 1, sess.Stage)
	assert.Equal(t, 2, f.gateway.creates())

	// settle the replacement, then wait past the first session's nudge
	f.gateway.status = services.StatusPaid
	require.NoError(t, f.orch.CheckStatus(ctx, "u1"))

	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, 0, f.chat.countContaining(f.campaign.NudgeText),
		"reminders from a replaced session must never reach the buyer")
}

func TestNudgeReminderFires(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = 10 * time.Millisecond; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))

	assert.Eventually(t, func() bool {
		return f.chat.countContaining(f.campaign.NudgeText) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRemarketReminderAdvancesStage(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = 10 * time.Millisecond })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))

	assert.Eventually(t, func() bool {
		return f.chat.countContaining(f.campaign.RemarketText) == 1
	}, time.Second, 5*time.Millisecond)

	sess, _ := f.sessions.FindActive(ctx, "u1")
	require.NotNil(t, sess)
	assert.Equal(t, 1, sess.Stage)
}

func TestNoReminderAfterSettlement(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = 30 * time.Millisecond; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))
	f.gateway.status = services.StatusPaid
	require.NoError(t, f.orch.CheckStatus(ctx, "u1"))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 0, f.chat.countContaining(f.campaign.NudgeText))
}

func TestArtifactFailureKeepsSessionPending(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	f.orch.renderer = &fakeRenderer{err: &services.ArtifactFetchError{URL: "x", Status: 502}}
	ctx := context.Background()

	err := f.orch.StartPurchase(ctx, "u1", "buyer", 0)
	var fetchErr *services.ArtifactFetchError
	require.ErrorAs(t, err, &fetchErr)

	// delivery aborted, but the session survives for a later status check
	sess, _ := f.sessions.FindActive(ctx, "u1")
	require.NotNil(t, sess)
	assert.Equal(t, models.SessionStatusPending, sess.Status)
	assert.Equal(t, 1, f.chat.countContaining(f.campaign.FailureText))
}

func TestGatewayFailureLeavesNoSession(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	f.gateway.createErr = &services.GatewayRequestError{Op: "create order", Err: errors.New("boom")}
	ctx := context.Background()

	err := f.orch.StartPurchase(ctx, "u1", "buyer", 0)
	var reqErr *services.GatewayRequestError
	require.ErrorAs(t, err, &reqErr)

	sess, _ := f.sessions.FindActive(ctx, "u1")
	assert.Nil(t, sess)
	assert.Equal(t, 1, f.chat.countContaining(f.campaign.FailureText))
}

func TestConfirmSettlementWebhookPath(t *testing.T) {
	f := newFixture(t, func(c *Campaign) { c.NudgeDelay = time.Hour; c.RemarketDelay = time.Hour })
	ctx := context.Background()

	require.NoError(t, f.orch.StartPurchase(ctx, "u1", "buyer", 0))

	require.NoError(t, f.orch.ConfirmSettlement(ctx, "ch_1"))
	assert.Equal(t, int64(1), f.delivered.Load())

	sess, _ := f.sessions.FindActive(ctx, "u1")
	assert.Nil(t, sess)

	// replayed webhook is a no-op
	require.NoError(t, f.orch.ConfirmSettlement(ctx, "ch_1"))
	assert.Equal(t, int64(1), f.delivered.Load())
}
