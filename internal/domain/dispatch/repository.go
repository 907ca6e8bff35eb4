package dispatch

import (
	"context"

	"github.com/reachforge/outreach-core/pkg/types/common"
)

// QueueRepository persists queue items so pending work survives a restart.
// Terminal items stay in the store as the completed audit log.
type QueueRepository interface {
	Save(ctx context.Context, item *QueueItem) error
	GetByID(ctx context.Context, id common.ID) (*QueueItem, error)
	// ListPending returns every non-terminal item (queued, sending,
	// retry_wait), ordered by creation time.  Items found in the sending
	// state were interrupted mid-flight and are re-queued on reload.
	ListPending(ctx context.Context) ([]*QueueItem, error)
}

// RateStateRepository persists per-account daily windows.
type RateStateRepository interface {
	Get(ctx context.Context, key common.AccountKey) (*AccountRateState, error)
	Save(ctx context.Context, state *AccountRateState) error
}

// HotRateCounter mirrors the daily counters into a low-latency store shared
// across processes.  Best-effort: a counter failure never blocks a send.
type HotRateCounter interface {
	// IncrementSent bumps the account's counter for the given window date
	// and returns the new value.
	IncrementSent(ctx context.Context, key common.AccountKey, windowDate string) (int64, error)
	// MarkRollover records that the window for the given date was opened.
	// Returns true for the first caller across all processes, false for
	// every repeat, making cross-process rollover idempotent.
	MarkRollover(ctx context.Context, key common.AccountKey, windowDate string) (bool, error)
}

// MetricsRecorder receives queue observability signals.  Implemented by the
// prometheus package; a nil-safe nop is used when metrics are disabled.
type MetricsRecorder interface {
	ObserveSend(account string, outcome string, seconds float64)
	SetQueueDepth(account string, priority string, depth int)
	RateWindowSuspended(account string)
}

// NopMetrics discards all signals.
type NopMetrics struct{}

func (NopMetrics) ObserveSend(string, string, float64) {}
func (NopMetrics) SetQueueDepth(string, string, int)   {}
func (NopMetrics) RateWindowSuspended(string)          {}
