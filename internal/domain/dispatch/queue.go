package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/reachforge/outreach-core/internal/config"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// CompletionCallback is invoked by a worker when an item reaches a terminal
// status.  sendErr is nil for sent items and carries the classified failure
// for failed ones.  The orchestrator uses it to record performance events.
type CompletionCallback func(ctx context.Context, item *QueueItem, sendErr error)

// Sleeper abstracts timed waits so tests can drive workers with a fake
// clock instead of real timers.
type Sleeper interface {
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options bundles the queue's collaborators.  Repo, Rates, and Sender are
// required; the rest default to production implementations or nops.
type Options struct {
	Repo       QueueRepository
	Rates      RateStateRepository
	Counter    HotRateCounter // optional hot mirror
	Sender     ChannelSender
	Clock      common.Clock
	Sleeper    Sleeper
	Metrics    MetricsRecorder
	Logger     logging.Logger
	OnComplete CompletionCallback
}

// Queue is the dispatch queue.  One worker goroutine per account key owns
// that account's items and rate window; Enqueue and the snapshot methods are
// safe from any goroutine.
type Queue struct {
	cfg     config.DispatchConfig
	loc     *time.Location
	repo    QueueRepository
	rates   RateStateRepository
	counter HotRateCounter
	sender  ChannelSender
	clock   common.Clock
	sleeper Sleeper
	metrics MetricsRecorder
	logger  logging.Logger

	onComplete CompletionCallback

	mu           sync.Mutex
	workers      map[common.AccountKey]*accountWorker
	initialized  bool
	shuttingDown bool
	quit         chan struct{}
	runCtx       context.Context
	cancelWaits  context.CancelFunc
	wg           sync.WaitGroup
}

// NewQueue builds a queue from configuration and collaborators.  Call
// Initialize before enqueuing.
func NewQueue(cfg config.DispatchConfig, opts Options) (*Queue, error) {
	if opts.Repo == nil || opts.Rates == nil || opts.Sender == nil {
		return nil, errors.Internal("dispatch queue requires repo, rates, and sender")
	}
	loc, err := time.LoadLocation(cfg.WindowTimezone)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeValidation, "invalid window timezone")
	}
	clock := opts.Clock
	if clock == nil {
		clock = common.SystemClock{}
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = timerSleeper{}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NopMetrics{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Queue{
		cfg:        cfg,
		loc:        loc,
		repo:       opts.Repo,
		rates:      opts.Rates,
		counter:    opts.Counter,
		sender:     opts.Sender,
		clock:      clock,
		sleeper:    sleeper,
		metrics:    metrics,
		logger:     logger.Named("dispatch"),
		onComplete: opts.OnComplete,
		workers:    make(map[common.AccountKey]*accountWorker),
		quit:       make(chan struct{}),
	}, nil
}

// SetCompletionCallback registers the terminal-item callback.  Called once
// during wiring, before Initialize.
func (q *Queue) SetCompletionCallback(cb CompletionCallback) {
	q.onComplete = cb
}

// Initialize reloads persisted pending items into per-account queues and
// starts the workers.  Idempotent: a second call is a no-op.
func (q *Queue) Initialize(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.initialized {
		return nil
	}
	if q.shuttingDown {
		return errors.New(errors.ErrCodeQueueShuttingDown, "queue is shutting down")
	}

	q.runCtx, q.cancelWaits = context.WithCancel(context.Background())

	pending, err := q.repo.ListPending(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "reload pending queue items")
	}
	reloaded := 0
	for _, item := range pending {
		// Items caught mid-send by a crash go back to queued.
		if item.Status == StatusSending {
			item.Status = StatusQueued
			if err := q.repo.Save(ctx, item); err != nil {
				return errors.Wrap(err, errors.ErrCodeDatabaseError, "requeue interrupted item")
			}
		}
		w, err := q.workerLocked(ctx, item.AccountKey)
		if err != nil {
			return err
		}
		w.push(item)
		reloaded++
	}
	q.initialized = true
	q.logger.Info("dispatch queue initialized",
		logging.Int("reloaded_items", reloaded),
		logging.Int("accounts", len(q.workers)))
	return nil
}

// EnqueueCommand describes one message to queue.
type EnqueueCommand struct {
	AccountKey common.AccountKey `json:"account_key"`
	Recipient  string            `json:"recipient"`
	Payload    string            `json:"payload"`
	Priority   Priority          `json:"priority"`
	Metadata   ItemMetadata      `json:"metadata"`
}

// Enqueue accepts one message for delivery and returns immediately.  Success
// means accepted, not delivered; delivery outcomes surface through status
// and the completion callback.
func (q *Queue) Enqueue(ctx context.Context, cmd EnqueueCommand) (*QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.enqueueLocked(ctx, cmd)
}

// EnqueueBatch validates the whole batch first, then enqueues every item.
// On a persistence failure mid-batch the already-accepted ids are returned
// together with the error.
func (q *Queue) EnqueueBatch(ctx context.Context, cmds []EnqueueCommand) ([]common.ID, error) {
	if len(cmds) == 0 {
		return nil, errors.InvalidParam("batch must not be empty")
	}
	for i := range cmds {
		if cmds[i].Priority == "" {
			cmds[i].Priority = PriorityNormal
		}
		probe := QueueItem{
			AccountKey: cmds[i].AccountKey,
			Recipient:  cmds[i].Recipient,
			Payload:    cmds[i].Payload,
			Priority:   cmds[i].Priority,
		}
		if err := probe.Validate(); err != nil {
			return nil, err
		}
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]common.ID, 0, len(cmds))
	for _, cmd := range cmds {
		item, err := q.enqueueLocked(ctx, cmd)
		if err != nil {
			return ids, err
		}
		ids = append(ids, item.ID)
	}
	return ids, nil
}

func (q *Queue) enqueueLocked(ctx context.Context, cmd EnqueueCommand) (*QueueItem, error) {
	if !q.initialized {
		return nil, errors.New(errors.ErrCodeQueueNotInitialized, "queue is not initialized")
	}
	if q.shuttingDown {
		return nil, errors.New(errors.ErrCodeQueueShuttingDown, "queue is shutting down")
	}
	if cmd.Priority == "" {
		cmd.Priority = PriorityNormal
	}
	now := q.clock.Now()
	item := &QueueItem{
		ID:          common.NewID(),
		AccountKey:  cmd.AccountKey,
		Recipient:   cmd.Recipient,
		Payload:     cmd.Payload,
		Priority:    cmd.Priority,
		Status:      StatusQueued,
		CreatedAt:   now,
		ScheduledAt: now,
		Metadata:    cmd.Metadata,
	}
	if err := item.Validate(); err != nil {
		return nil, err
	}
	w, err := q.workerLocked(ctx, cmd.AccountKey)
	if err != nil {
		return nil, err
	}
	if q.cfg.QueueCapacity > 0 && w.depth() >= q.cfg.QueueCapacity {
		return nil, errors.RateLimit("account queue is full").
			WithDetail(cmd.AccountKey.String())
	}
	if err := q.repo.Save(ctx, item); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "persist queue item")
	}
	w.push(item)
	return item, nil
}

// GetItem returns the persisted state of one queue item.
func (q *Queue) GetItem(ctx context.Context, id common.ID) (*QueueItem, error) {
	return q.repo.GetByID(ctx, id)
}

// workerLocked returns the account's worker, creating and starting it on
// first use.  Caller holds q.mu.
func (q *Queue) workerLocked(ctx context.Context, key common.AccountKey) (*accountWorker, error) {
	if key == "" {
		return nil, errors.InvalidParam("account_key is required")
	}
	if w, ok := q.workers[key]; ok {
		return w, nil
	}
	state, err := q.rates.Get(ctx, key)
	if err != nil {
		if !errors.IsNotFound(err) {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "load rate state")
		}
		state = NewAccountRateState(key, q.cfg.DefaultDailyLimit, q.clock.Now(), q.loc)
		if err := q.rates.Save(ctx, state); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "create rate state")
		}
	}
	w := newAccountWorker(q, key, state)
	q.workers[key] = w
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		w.run()
	}()
	q.logger.Info("account worker started",
		logging.String("account", key.String()),
		logging.Int("daily_limit", state.DailyLimit))
	return w, nil
}

// AccountStatus is a read-only snapshot of one account's queue and window.
type AccountStatus struct {
	AccountKey    common.AccountKey `json:"account_key"`
	Depth         map[Priority]int  `json:"depth"`
	InFlight      int               `json:"in_flight"`
	SentToday     int               `json:"sent_today"`
	DailyLimit    int               `json:"daily_limit"`
	Remaining     int               `json:"remaining"`
	WindowResetAt time.Time         `json:"window_reset_at"`
}

// QueueStats is the queue-wide snapshot.
type QueueStats struct {
	Accounts   map[common.AccountKey]AccountStatus `json:"accounts"`
	TotalDepth int                                 `json:"total_depth"`
	InFlight   int                                 `json:"in_flight"`
}

// Stats returns a consistent snapshot across all accounts.  Never mutates
// state and is safe to call concurrently with workers.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	workers := make([]*accountWorker, 0, len(q.workers))
	for _, w := range q.workers {
		workers = append(workers, w)
	}
	q.mu.Unlock()

	stats := QueueStats{Accounts: make(map[common.AccountKey]AccountStatus, len(workers))}
	for _, w := range workers {
		st := w.snapshot()
		stats.Accounts[st.AccountKey] = st
		for _, n := range st.Depth {
			stats.TotalDepth += n
		}
		stats.InFlight += st.InFlight
	}
	return stats
}

// QueueStatus returns the snapshot for a single account.
func (q *Queue) QueueStatus(key common.AccountKey) (AccountStatus, error) {
	q.mu.Lock()
	w, ok := q.workers[key]
	q.mu.Unlock()
	if !ok {
		return AccountStatus{}, errors.NotFound("unknown account").WithDetail(key.String())
	}
	return w.snapshot(), nil
}

// Shutdown stops intake, lets any in-flight send finish, and waits for the
// workers to drain, bounded by ctx.  Pending items stay persisted and are
// reloaded by the next Initialize.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.shuttingDown {
		q.mu.Unlock()
		return nil
	}
	q.shuttingDown = true
	initialized := q.initialized
	q.mu.Unlock()

	close(q.quit)
	if !initialized {
		return nil
	}
	q.cancelWaits()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("dispatch queue stopped")
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrCodeTimeout, "dispatch queue shutdown timed out")
	}
}
