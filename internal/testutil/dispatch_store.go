package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// InMemoryQueueRepo is a map-backed dispatch.QueueRepository.
type InMemoryQueueRepo struct {
	mu    sync.Mutex
	items map[common.ID]*dispatch.QueueItem
}

// NewInMemoryQueueRepo creates an empty queue store.
func NewInMemoryQueueRepo() *InMemoryQueueRepo {
	return &InMemoryQueueRepo{items: make(map[common.ID]*dispatch.QueueItem)}
}

func (r *InMemoryQueueRepo) Save(_ context.Context, item *dispatch.QueueItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *item
	r.items[item.ID] = &cp
	return nil
}

func (r *InMemoryQueueRepo) GetByID(_ context.Context, id common.ID) (*dispatch.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeQueueItemNotFound, "queue item not found").
			WithDetail(id.String())
	}
	cp := *item
	return &cp, nil
}

func (r *InMemoryQueueRepo) ListPending(_ context.Context) ([]*dispatch.QueueItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*dispatch.QueueItem
	for _, item := range r.items {
		if !item.Status.Terminal() {
			cp := *item
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// CountByStatus tallies stored items per status, for assertions.
func (r *InMemoryQueueRepo) CountByStatus() map[dispatch.ItemStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[dispatch.ItemStatus]int)
	for _, item := range r.items {
		out[item.Status]++
	}
	return out
}

// InMemoryRateStateRepo is a map-backed dispatch.RateStateRepository.
type InMemoryRateStateRepo struct {
	mu     sync.Mutex
	states map[common.AccountKey]*dispatch.AccountRateState
}

// NewInMemoryRateStateRepo creates an empty rate-state store.
func NewInMemoryRateStateRepo() *InMemoryRateStateRepo {
	return &InMemoryRateStateRepo{states: make(map[common.AccountKey]*dispatch.AccountRateState)}
}

func (r *InMemoryRateStateRepo) Get(_ context.Context, key common.AccountKey) (*dispatch.AccountRateState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[key]
	if !ok {
		return nil, errors.NotFound("rate state not found").WithDetail(key.String())
	}
	cp := *st
	return &cp, nil
}

func (r *InMemoryRateStateRepo) Save(_ context.Context, state *dispatch.AccountRateState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *state
	r.states[state.AccountKey] = &cp
	return nil
}

// InMemoryRateCounter is a map-backed dispatch.HotRateCounter.
type InMemoryRateCounter struct {
	mu       sync.Mutex
	counts   map[string]int64
	rollMark map[string]bool
}

// NewInMemoryRateCounter creates an empty counter.
func NewInMemoryRateCounter() *InMemoryRateCounter {
	return &InMemoryRateCounter{counts: make(map[string]int64), rollMark: make(map[string]bool)}
}

func (c *InMemoryRateCounter) IncrementSent(_ context.Context, key common.AccountKey, windowDate string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String() + ":" + windowDate
	c.counts[k]++
	return c.counts[k], nil
}

func (c *InMemoryRateCounter) MarkRollover(_ context.Context, key common.AccountKey, windowDate string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key.String() + ":" + windowDate
	if c.rollMark[k] {
		return false, nil
	}
	c.rollMark[k] = true
	return true, nil
}

// Count returns the counter value for an account and window date.
func (c *InMemoryRateCounter) Count(key common.AccountKey, windowDate string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key.String()+":"+windowDate]
}

// AdvancingSleeper is a dispatch.Sleeper that advances a FakeClock instead
// of waiting.  Sleeps at or above BlockAt (when set) block until Release is
// called or the context is cancelled, letting tests freeze a worker at a
// window boundary.
type AdvancingSleeper struct {
	Clock   *FakeClock
	BlockAt time.Duration

	mu      sync.Mutex
	blocked chan struct{}
	waiting chan struct{}
}

// NewAdvancingSleeper wraps a fake clock.
func NewAdvancingSleeper(clock *FakeClock) *AdvancingSleeper {
	return &AdvancingSleeper{
		Clock:   clock,
		blocked: make(chan struct{}),
		waiting: make(chan struct{}, 16),
	}
}

func (s *AdvancingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if s.BlockAt > 0 && d >= s.BlockAt {
		select {
		case s.waiting <- struct{}{}:
		default:
		}
		select {
		case <-s.blocked:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}
	if d > 0 {
		s.Clock.Advance(d)
	}
	return nil
}

// WaitingForBlock signals once per sleep that hit the blocking threshold.
func (s *AdvancingSleeper) WaitingForBlock() <-chan struct{} {
	return s.waiting
}

// Release unblocks every blocked and future long sleep.
func (s *AdvancingSleeper) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.blocked:
	default:
		close(s.blocked)
	}
}
