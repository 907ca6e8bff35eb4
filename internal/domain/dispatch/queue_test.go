package dispatch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/testutil"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

type completion struct {
	item *dispatch.QueueItem
	err  error
}

// fakeSender records send order and returns scripted errors per attempt.
// An optional gate blocks sends until released so tests can stage the queue.
type fakeSender struct {
	mu      sync.Mutex
	calls   []string
	gate    chan struct{}
	started chan struct{}
	errFor  func(recipient string, attempt int) error
	perRcpt map[string]int
}

func newFakeSender() *fakeSender {
	return &fakeSender{perRcpt: make(map[string]int), started: make(chan struct{}, 64)}
}

func (s *fakeSender) Send(_ context.Context, _ common.AccountKey, recipient, _ string) error {
	s.started <- struct{}{}
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.perRcpt[recipient]++
	s.calls = append(s.calls, recipient)
	if s.errFor != nil {
		return s.errFor(recipient, s.perRcpt[recipient])
	}
	return nil
}

func (s *fakeSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

type queueFixture struct {
	queue       *dispatch.Queue
	repo        *testutil.InMemoryQueueRepo
	rates       *testutil.InMemoryRateStateRepo
	counter     *testutil.InMemoryRateCounter
	clock       *testutil.FakeClock
	sleeper     *testutil.AdvancingSleeper
	sender      *fakeSender
	completions chan completion
}

func testDispatchConfig() config.DispatchConfig {
	return config.DispatchConfig{
		DefaultDailyLimit: 1000,
		WindowTimezone:    "UTC",
		MaxAttempts:       5,
		BackoffBase:       30 * time.Second,
		BackoffCap:        30 * time.Minute,
		QueueCapacity:     200,
	}
}

func newQueueFixture(t *testing.T, cfg config.DispatchConfig) *queueFixture {
	t.Helper()
	f := &queueFixture{
		repo:        testutil.NewInMemoryQueueRepo(),
		rates:       testutil.NewInMemoryRateStateRepo(),
		counter:     testutil.NewInMemoryRateCounter(),
		clock:       testutil.NewFakeClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)),
		sender:      newFakeSender(),
		completions: make(chan completion, 256),
	}
	f.sleeper = testutil.NewAdvancingSleeper(f.clock)

	q, err := dispatch.NewQueue(cfg, dispatch.Options{
		Repo:    f.repo,
		Rates:   f.rates,
		Counter: f.counter,
		Sender:  f.sender,
		Clock:   f.clock,
		Sleeper: f.sleeper,
		Logger:  logging.NewNopLogger(),
		OnComplete: func(_ context.Context, item *dispatch.QueueItem, err error) {
			f.completions <- completion{item: item, err: err}
		},
	})
	require.NoError(t, err)
	f.queue = q
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Shutdown(ctx)
	})
	return f
}

func (f *queueFixture) enqueue(t *testing.T, recipient string, prio dispatch.Priority) *dispatch.QueueItem {
	t.Helper()
	item, err := f.queue.Enqueue(context.Background(), dispatch.EnqueueCommand{
		AccountKey: "acct-1",
		Recipient:  recipient,
		Payload:    "hello",
		Priority:   prio,
	})
	require.NoError(t, err)
	return item
}

func (f *queueFixture) waitCompletions(t *testing.T, n int) []completion {
	t.Helper()
	out := make([]completion, 0, n)
	deadline := time.After(5 * time.Second)
	for len(out) < n {
		select {
		case c := <-f.completions:
			out = append(out, c)
		case <-deadline:
			t.Fatalf("timed out waiting for completions: got %d of %d", len(out), n)
		}
	}
	return out
}

func TestEnqueueRequiresInitialize(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	_, err := f.queue.Enqueue(context.Background(), dispatch.EnqueueCommand{
		AccountKey: "acct-1", Recipient: "@a", Payload: "hi",
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueueNotInitialized))
}

func TestSendSuccessFlow(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))
	require.NoError(t, f.queue.Initialize(ctx)) // idempotent

	for i := 0; i < 3; i++ {
		f.enqueue(t, fmt.Sprintf("@rcpt-%d", i), dispatch.PriorityNormal)
	}
	done := f.waitCompletions(t, 3)
	for _, c := range done {
		assert.NoError(t, c.err)
		assert.Equal(t, dispatch.StatusSent, c.item.Status)
		assert.Equal(t, 1, c.item.Attempts)
		require.NotNil(t, c.item.SentAt)
	}

	state, err := f.rates.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 3, state.SentToday)
	assert.EqualValues(t, 3, f.counter.Count("acct-1", "2026-03-02"))
	assert.Equal(t, 3, f.repo.CountByStatus()[dispatch.StatusSent])
}

func TestEnqueueValidation(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	cases := []dispatch.EnqueueCommand{
		{AccountKey: "", Recipient: "@a", Payload: "hi"},
		{AccountKey: "acct-1", Recipient: "", Payload: "hi"},
		{AccountKey: "acct-1", Recipient: "@a", Payload: ""},
		{AccountKey: "acct-1", Recipient: "@a", Payload: "hi", Priority: "asap"},
	}
	for _, cmd := range cases {
		_, err := f.queue.Enqueue(ctx, cmd)
		assert.True(t, errors.IsValidation(err), "command %+v", cmd)
	}
}

func TestEnqueueBatch(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	// One invalid command rejects the whole batch before anything enqueues.
	_, err := f.queue.EnqueueBatch(ctx, []dispatch.EnqueueCommand{
		{AccountKey: "acct-1", Recipient: "@a", Payload: "hi"},
		{AccountKey: "acct-1", Recipient: "", Payload: "hi"},
	})
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 0, f.repo.CountByStatus()[dispatch.StatusSent]+f.repo.CountByStatus()[dispatch.StatusQueued])

	ids, err := f.queue.EnqueueBatch(ctx, []dispatch.EnqueueCommand{
		{AccountKey: "acct-1", Recipient: "@a", Payload: "hi"},
		{AccountKey: "acct-2", Recipient: "@b", Payload: "hi", Priority: dispatch.PriorityHigh},
	})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	f.waitCompletions(t, 2)
}

func TestPriorityOrdering(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	ctx := context.Background()

	// Hold the first send open while the rest of the queue is staged.
	gate := make(chan struct{})
	f.sender.gate = gate
	require.NoError(t, f.queue.Initialize(ctx))

	f.enqueue(t, "@starter", dispatch.PriorityNormal)
	// Wait for the worker to pick up the starter before staging the rest,
	// so the remaining pops observe the full queue.
	select {
	case <-f.sender.started:
	case <-time.After(5 * time.Second):
		t.Fatal("worker never picked up the starter item")
	}
	f.enqueue(t, "@low-1", dispatch.PriorityLow)
	f.enqueue(t, "@normal-1", dispatch.PriorityNormal)
	f.enqueue(t, "@high-1", dispatch.PriorityHigh)
	f.enqueue(t, "@high-2", dispatch.PriorityHigh)
	close(gate)

	f.waitCompletions(t, 5)
	assert.Equal(t, []string{"@starter", "@high-1", "@high-2", "@normal-1", "@low-1"}, f.sender.sent())
}

func TestTransientRetryThenSuccess(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	f.sender.errFor = func(_ string, attempt int) error {
		if attempt <= 2 {
			return dispatch.TransientError("connection reset", nil)
		}
		return nil
	}
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	item := f.enqueue(t, "@flaky", dispatch.PriorityNormal)
	done := f.waitCompletions(t, 1)
	require.NoError(t, done[0].err)
	assert.Equal(t, dispatch.StatusSent, done[0].item.Status)
	assert.Equal(t, 3, done[0].item.Attempts)
	assert.Equal(t, []string{"@flaky", "@flaky", "@flaky"}, f.sender.sent())

	stored, err := f.queue.GetItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusSent, stored.Status)
}

func TestPermanentFailureNoRetry(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	f.sender.errFor = func(string, int) error {
		return dispatch.PermanentError("recipient blocked the account", nil)
	}
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	f.enqueue(t, "@blocked", dispatch.PriorityNormal)
	done := f.waitCompletions(t, 1)
	require.Error(t, done[0].err)
	assert.True(t, dispatch.IsPermanent(done[0].err))
	assert.Equal(t, dispatch.StatusFailed, done[0].item.Status)
	assert.Equal(t, 1, done[0].item.Attempts)
	assert.Contains(t, done[0].item.FailureReason, "blocked")
	assert.Len(t, f.sender.sent(), 1)
}

func TestTransientExhaustsAttempts(t *testing.T) {
	t.Parallel()

	cfg := testDispatchConfig()
	cfg.MaxAttempts = 3
	f := newQueueFixture(t, cfg)
	f.sender.errFor = func(string, int) error {
		return dispatch.TransientError("gateway timeout", nil)
	}
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	f.enqueue(t, "@unlucky", dispatch.PriorityNormal)
	done := f.waitCompletions(t, 1)
	require.Error(t, done[0].err)
	assert.Equal(t, dispatch.StatusFailed, done[0].item.Status)
	assert.Equal(t, 3, done[0].item.Attempts)
	assert.Len(t, f.sender.sent(), 3)

	// No sends count against the quota.
	state, err := f.rates.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 0, state.SentToday)
}

func TestRateCeiling(t *testing.T) {
	t.Parallel()

	cfg := testDispatchConfig()
	cfg.DefaultDailyLimit = 40
	f := newQueueFixture(t, cfg)
	// Freeze the worker at the window-reset sleep instead of advancing
	// the clock across midnight.
	f.sleeper.BlockAt = time.Hour
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	for i := 0; i < 45; i++ {
		f.enqueue(t, fmt.Sprintf("@rcpt-%d", i), dispatch.PriorityNormal)
	}

	f.waitCompletions(t, 40)
	select {
	case <-f.sleeper.WaitingForBlock():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not suspend at the window boundary")
	}

	byStatus := f.repo.CountByStatus()
	assert.Equal(t, 40, byStatus[dispatch.StatusSent])
	assert.Equal(t, 5, byStatus[dispatch.StatusQueued])
	assert.Equal(t, 0, byStatus[dispatch.StatusFailed])

	// The held-back items are deferred past the window boundary.
	windowReset := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	pending, err := f.repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 5)
	for _, item := range pending {
		assert.False(t, item.ScheduledAt.Before(windowReset))
	}

	status, err := f.queue.QueueStatus("acct-1")
	require.NoError(t, err)
	assert.Equal(t, 40, status.SentToday)
	assert.Equal(t, 0, status.Remaining)
	assert.Equal(t, 5, status.Depth[dispatch.PriorityNormal])
}

func TestWindowRolloverResumesSending(t *testing.T) {
	t.Parallel()

	cfg := testDispatchConfig()
	cfg.DefaultDailyLimit = 2
	f := newQueueFixture(t, cfg)
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	for i := 0; i < 3; i++ {
		f.enqueue(t, fmt.Sprintf("@rcpt-%d", i), dispatch.PriorityNormal)
	}

	// The window sleep advances the fake clock past midnight, the window
	// rolls over, and the third item goes out in the new window.
	done := f.waitCompletions(t, 3)
	for _, c := range done {
		assert.NoError(t, c.err)
	}
	state, err := f.rates.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, state.SentToday)
	assert.EqualValues(t, 2, f.counter.Count("acct-1", "2026-03-02"))
	assert.EqualValues(t, 1, f.counter.Count("acct-1", "2026-03-03"))
}

func TestInitializeReloadsPersistedItems(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	ctx := context.Background()
	base := f.clock.Now()

	// Simulate state left behind by a previous process: one interrupted
	// mid-send, one still queued, one already terminal.
	seed := []*dispatch.QueueItem{
		{ID: common.NewID(), AccountKey: "acct-1", Recipient: "@interrupted", Payload: "hi",
			Priority: dispatch.PriorityNormal, Status: dispatch.StatusSending,
			CreatedAt: base.Add(-2 * time.Minute), ScheduledAt: base.Add(-2 * time.Minute)},
		{ID: common.NewID(), AccountKey: "acct-1", Recipient: "@waiting", Payload: "hi",
			Priority: dispatch.PriorityNormal, Status: dispatch.StatusQueued,
			CreatedAt: base.Add(-time.Minute), ScheduledAt: base.Add(-time.Minute)},
		{ID: common.NewID(), AccountKey: "acct-1", Recipient: "@done", Payload: "hi",
			Priority: dispatch.PriorityNormal, Status: dispatch.StatusSent,
			CreatedAt: base.Add(-3 * time.Minute), ScheduledAt: base.Add(-3 * time.Minute)},
	}
	for _, item := range seed {
		require.NoError(t, f.repo.Save(ctx, item))
	}

	require.NoError(t, f.queue.Initialize(ctx))
	done := f.waitCompletions(t, 2)
	for _, c := range done {
		assert.NoError(t, c.err)
	}
	assert.ElementsMatch(t, []string{"@interrupted", "@waiting"}, f.sender.sent())
	assert.Equal(t, 3, f.repo.CountByStatus()[dispatch.StatusSent])
}

func TestPacingAndJitterAdvanceClock(t *testing.T) {
	t.Parallel()

	cfg := testDispatchConfig()
	cfg.MessagesPerMinute = 2
	cfg.MinMessageJitter = 5 * time.Second
	cfg.MaxMessageJitter = 5 * time.Second
	f := newQueueFixture(t, cfg)
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	start := f.clock.Now()
	for i := 0; i < 3; i++ {
		f.enqueue(t, fmt.Sprintf("@rcpt-%d", i), dispatch.PriorityNormal)
	}
	f.waitCompletions(t, 3)

	// Two 30s pacing gaps minus jitter overlap, plus three 5s jitters.
	assert.GreaterOrEqual(t, f.clock.Now().Sub(start), 65*time.Second)
}

func TestQueueStatusUnknownAccount(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	require.NoError(t, f.queue.Initialize(context.Background()))
	_, err := f.queue.QueueStatus("nobody")
	assert.True(t, errors.IsNotFound(err))
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))

	f.enqueue(t, "@a", dispatch.PriorityNormal)
	_, err := f.queue.Enqueue(ctx, dispatch.EnqueueCommand{
		AccountKey: "acct-2", Recipient: "@b", Payload: "hi", Priority: dispatch.PriorityHigh,
	})
	require.NoError(t, err)
	f.waitCompletions(t, 2)

	stats := f.queue.Stats()
	require.Len(t, stats.Accounts, 2)
	assert.Equal(t, 0, stats.TotalDepth)
	assert.Equal(t, 1, stats.Accounts["acct-1"].SentToday)
	assert.Equal(t, 1, stats.Accounts["acct-2"].SentToday)
}

func TestShutdownStopsIntake(t *testing.T) {
	t.Parallel()

	f := newQueueFixture(t, testDispatchConfig())
	ctx := context.Background()
	require.NoError(t, f.queue.Initialize(ctx))
	require.NoError(t, f.queue.Shutdown(ctx))

	_, err := f.queue.Enqueue(ctx, dispatch.EnqueueCommand{
		AccountKey: "acct-1", Recipient: "@a", Payload: "hi",
	})
	assert.True(t, errors.IsCode(err, errors.ErrCodeQueueShuttingDown))

	// A second shutdown is a no-op.
	assert.NoError(t, f.queue.Shutdown(ctx))
}
