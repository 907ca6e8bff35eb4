package dispatch

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// accountWorker is the single writer for one account's queue and rate
// window.  All sends for the account pass through it strictly in
// priority-then-FIFO order, never concurrently.
type accountWorker struct {
	q   *Queue
	key common.AccountKey

	limiter *rate.Limiter

	mu       sync.Mutex
	buckets  [priorityCount][]*QueueItem
	inFlight bool
	state    AccountRateState

	wake chan struct{}
}

func newAccountWorker(q *Queue, key common.AccountKey, state *AccountRateState) *accountWorker {
	w := &accountWorker{
		q:     q,
		key:   key,
		state: *state,
		wake:  make(chan struct{}, 1),
	}
	if q.cfg.MessagesPerMinute > 0 {
		w.limiter = rate.NewLimiter(rate.Limit(float64(q.cfg.MessagesPerMinute))/60, 1)
	}
	return w
}

// push adds an item to its priority bucket and nudges the loop.
func (w *accountWorker) push(item *QueueItem) {
	w.mu.Lock()
	r := item.Priority.rank()
	w.buckets[r] = append(w.buckets[r], item)
	depth := len(w.buckets[r])
	w.mu.Unlock()

	w.q.metrics.SetQueueDepth(w.key.String(), string(item.Priority), depth)
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *accountWorker) depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, b := range w.buckets {
		n += len(b)
	}
	return n
}

// snapshot copies the worker's visible state without disturbing it.
func (w *accountWorker) snapshot() AccountStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := AccountStatus{
		AccountKey: w.key,
		Depth: map[Priority]int{
			PriorityHigh:   len(w.buckets[PriorityHigh.rank()]),
			PriorityNormal: len(w.buckets[PriorityNormal.rank()]),
			PriorityLow:    len(w.buckets[PriorityLow.rank()]),
		},
		SentToday:     w.state.SentToday,
		DailyLimit:    w.state.DailyLimit,
		Remaining:     w.state.Remaining(),
		WindowResetAt: w.state.WindowResetAt,
	}
	if w.inFlight {
		st.InFlight = 1
	}
	return st
}

func (w *accountWorker) run() {
	for {
		select {
		case <-w.q.quit:
			return
		default:
		}

		now := w.q.clock.Now()
		w.maybeRollover(now)

		if w.exhausted() {
			resetAt := w.resetAt()
			w.deferPendingUntil(resetAt)
			w.q.metrics.RateWindowSuspended(w.key.String())
			w.q.logger.Info("daily ceiling reached, worker suspended",
				logging.String("account", w.key.String()),
				logging.Time("window_reset_at", resetAt))
			if !w.waitFor(resetAt.Sub(now)) {
				return
			}
			continue
		}

		item, wait := w.pop(now)
		if item == nil {
			if !w.waitFor(wait) {
				return
			}
			continue
		}
		w.process(item)
	}
}

func (w *accountWorker) exhausted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Exhausted()
}

func (w *accountWorker) resetAt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.WindowResetAt
}

// maybeRollover resets the daily window when its boundary has passed.  The
// persisted state and the hot counter both see the rollover; the counter's
// marker keeps the reset idempotent across processes.
func (w *accountWorker) maybeRollover(now time.Time) {
	w.mu.Lock()
	rolled := w.state.RolloverIfDue(now, w.q.loc)
	state := w.state
	w.mu.Unlock()
	if !rolled {
		return
	}
	ctx := context.Background()
	if err := w.q.rates.Save(ctx, &state); err != nil {
		w.q.logger.Error("persist rate window rollover",
			logging.String("account", w.key.String()), logging.Err(err))
	}
	if w.q.counter != nil {
		first, err := w.q.counter.MarkRollover(ctx, w.key, state.WindowDate(now, w.q.loc))
		if err != nil {
			w.q.logger.Warn("mark rollover in hot counter",
				logging.String("account", w.key.String()), logging.Err(err))
		} else if !first {
			w.q.logger.Debug("rollover already marked elsewhere",
				logging.String("account", w.key.String()))
		}
	}
	w.q.logger.Info("rate window rolled over",
		logging.String("account", w.key.String()),
		logging.Time("next_reset", state.WindowResetAt))
}

// deferPendingUntil pushes every pending item's eligibility past the window
// boundary so snapshots and the store agree that nothing more goes out today.
func (w *accountWorker) deferPendingUntil(resetAt time.Time) {
	w.mu.Lock()
	var deferred []*QueueItem
	for _, bucket := range w.buckets {
		for _, item := range bucket {
			if item.ScheduledAt.Before(resetAt) {
				item.ScheduledAt = resetAt
				deferred = append(deferred, item)
			}
		}
	}
	w.mu.Unlock()

	ctx := context.Background()
	for _, item := range deferred {
		if err := w.q.repo.Save(ctx, item); err != nil {
			w.q.logger.Error("defer queue item past window",
				logging.String("item_id", item.ID.String()), logging.Err(err))
		}
	}
}

// pop removes the highest-priority eligible item.  When nothing is eligible
// it returns the wait until the earliest scheduled item, or a negative wait
// for an empty queue.
func (w *accountWorker) pop(now time.Time) (*QueueItem, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var earliest time.Time
	for r := 0; r < priorityCount; r++ {
		for i, item := range w.buckets[r] {
			if item.Eligible(now) {
				w.buckets[r] = append(w.buckets[r][:i], w.buckets[r][i+1:]...)
				w.inFlight = true
				return item, 0
			}
			if earliest.IsZero() || item.ScheduledAt.Before(earliest) {
				earliest = item.ScheduledAt
			}
		}
	}
	if earliest.IsZero() {
		return nil, -1
	}
	return nil, earliest.Sub(now)
}

// waitFor blocks until d elapses, new work arrives, or shutdown.  A negative
// d waits for work only.  Returns false when the worker must exit.
func (w *accountWorker) waitFor(d time.Duration) bool {
	if d < 0 {
		select {
		case <-w.q.quit:
			return false
		case <-w.wake:
			return true
		}
	}
	sctx, cancel := context.WithCancel(w.q.runCtx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = w.q.sleeper.Sleep(sctx, d)
		close(done)
	}()
	select {
	case <-w.q.quit:
		return false
	case <-w.wake:
		return true
	case <-done:
		return true
	}
}

// process drives one item through pacing, jitter, and the channel sender,
// then settles its terminal or retry state.
func (w *accountWorker) process(item *QueueItem) {
	defer w.clearInFlight()
	pctx := context.Background()

	item.Status = StatusSending
	if err := w.q.repo.Save(pctx, item); err != nil {
		w.q.logger.Error("mark item sending",
			logging.String("item_id", item.ID.String()), logging.Err(err))
	}

	now := w.q.clock.Now()
	if w.limiter != nil {
		res := w.limiter.ReserveN(now, 1)
		if d := res.DelayFrom(now); d > 0 {
			if err := w.q.sleeper.Sleep(w.q.runCtx, d); err != nil {
				w.requeue(item)
				return
			}
		}
	}
	if d := w.jitter(); d > 0 {
		if err := w.q.sleeper.Sleep(w.q.runCtx, d); err != nil {
			w.requeue(item)
			return
		}
	}

	start := w.q.clock.Now()
	sendErr := w.q.sender.Send(pctx, w.key, item.Recipient, item.Payload)
	elapsed := w.q.clock.Now().Sub(start).Seconds()

	switch {
	case sendErr == nil:
		w.finishSent(item, elapsed)
	case IsPermanent(sendErr):
		w.finishFailed(item, sendErr, "failed_permanent", elapsed)
	default:
		w.handleTransient(item, sendErr, elapsed)
	}
}

// requeue returns an item interrupted by shutdown to the queued state so the
// next Initialize reloads it untouched.
func (w *accountWorker) requeue(item *QueueItem) {
	item.Status = StatusQueued
	if err := w.q.repo.Save(context.Background(), item); err != nil {
		w.q.logger.Error("requeue item on shutdown",
			logging.String("item_id", item.ID.String()), logging.Err(err))
	}
}

func (w *accountWorker) finishSent(item *QueueItem, elapsed float64) {
	ctx := context.Background()
	now := w.q.clock.Now()
	item.Status = StatusSent
	item.Attempts++
	item.SentAt = &now
	if err := w.q.repo.Save(ctx, item); err != nil {
		w.q.logger.Error("persist sent item",
			logging.String("item_id", item.ID.String()), logging.Err(err))
	}

	w.mu.Lock()
	w.state.RecordSend()
	state := w.state
	w.mu.Unlock()
	if err := w.q.rates.Save(ctx, &state); err != nil {
		w.q.logger.Error("persist rate state",
			logging.String("account", w.key.String()), logging.Err(err))
	}
	if w.q.counter != nil {
		day := state.WindowDate(now, w.q.loc)
		if _, err := w.q.counter.IncrementSent(ctx, w.key, day); err != nil {
			w.q.logger.Warn("hot counter increment failed",
				logging.String("account", w.key.String()), logging.Err(err))
		}
	}

	w.q.metrics.ObserveSend(w.key.String(), "sent", elapsed)
	w.q.logger.Debug("item sent",
		logging.String("item_id", item.ID.String()),
		logging.Int("sent_today", state.SentToday))
	w.complete(item, nil)
}

func (w *accountWorker) finishFailed(item *QueueItem, sendErr error, outcome string, elapsed float64) {
	item.Status = StatusFailed
	item.Attempts++
	item.FailureReason = sendErr.Error()
	if err := w.q.repo.Save(context.Background(), item); err != nil {
		w.q.logger.Error("persist failed item",
			logging.String("item_id", item.ID.String()), logging.Err(err))
	}
	w.q.metrics.ObserveSend(w.key.String(), outcome, elapsed)
	w.q.logger.Warn("item failed",
		logging.String("item_id", item.ID.String()),
		logging.String("outcome", outcome),
		logging.Int("attempts", item.Attempts),
		logging.Err(sendErr))
	w.complete(item, sendErr)
}

func (w *accountWorker) handleTransient(item *QueueItem, sendErr error, elapsed float64) {
	if item.Attempts+1 >= w.q.cfg.MaxAttempts {
		w.finishFailed(item, sendErr, "failed_exhausted", elapsed)
		return
	}
	item.Attempts++
	backoff := backoffFor(w.q.cfg.BackoffBase, w.q.cfg.BackoffCap, item.Attempts)
	item.Status = StatusRetryWait
	item.ScheduledAt = w.q.clock.Now().Add(backoff)
	if err := w.q.repo.Save(context.Background(), item); err != nil {
		w.q.logger.Error("persist retry item",
			logging.String("item_id", item.ID.String()), logging.Err(err))
	}
	w.mu.Lock()
	r := item.Priority.rank()
	w.buckets[r] = append(w.buckets[r], item)
	w.mu.Unlock()

	w.q.metrics.ObserveSend(w.key.String(), "retry", elapsed)
	w.q.logger.Info("transient failure, retry scheduled",
		logging.String("item_id", item.ID.String()),
		logging.Int("attempts", item.Attempts),
		logging.Duration("backoff", backoff),
		logging.Err(sendErr))
}

func (w *accountWorker) complete(item *QueueItem, sendErr error) {
	if w.q.onComplete == nil {
		return
	}
	cp := *item
	w.q.onComplete(context.Background(), &cp, sendErr)
}

func (w *accountWorker) clearInFlight() {
	w.mu.Lock()
	w.inFlight = false
	w.mu.Unlock()
}

// jitter draws a randomized inter-message delay from the configured range.
func (w *accountWorker) jitter() time.Duration {
	min, max := w.q.cfg.MinMessageJitter, w.q.cfg.MaxMessageJitter
	if max <= 0 || max < min {
		return 0
	}
	if max == min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}

// backoffFor computes min(base << (attempt-1), ceil) with overflow guarded.
func backoffFor(base, ceil time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= ceil || d <= 0 {
			return ceil
		}
	}
	if d > ceil {
		return ceil
	}
	return d
}
