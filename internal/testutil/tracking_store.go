package testutil

import (
	"context"
	"sync"

	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// InMemoryEventRepo is an append-only slice-backed tracking.EventRepository.
type InMemoryEventRepo struct {
	mu     sync.Mutex
	events []*tracking.PerformanceEvent
}

// NewInMemoryEventRepo creates an empty event log.
func NewInMemoryEventRepo() *InMemoryEventRepo {
	return &InMemoryEventRepo{}
}

func (r *InMemoryEventRepo) Append(_ context.Context, event *tracking.PerformanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

func (r *InMemoryEventRepo) ListByTest(_ context.Context, testID common.ID) ([]*tracking.PerformanceEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*tracking.PerformanceEvent
	for _, e := range r.events {
		if e.TestID == testID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

type aggregateKey struct {
	testID    common.ID
	variantID common.ID
}

// InMemoryAggregateRepo is a map-backed tracking.AggregateRepository with
// increment-only Apply semantics.
type InMemoryAggregateRepo struct {
	mu   sync.Mutex
	aggs map[aggregateKey]*tracking.VariantAggregate
}

// NewInMemoryAggregateRepo creates an empty aggregate store.
func NewInMemoryAggregateRepo() *InMemoryAggregateRepo {
	return &InMemoryAggregateRepo{aggs: make(map[aggregateKey]*tracking.VariantAggregate)}
}

func (r *InMemoryAggregateRepo) Apply(_ context.Context, event *tracking.PerformanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := aggregateKey{event.TestID, event.VariantID}
	agg, ok := r.aggs[key]
	if !ok {
		agg = &tracking.VariantAggregate{TestID: event.TestID, VariantID: event.VariantID}
		r.aggs[key] = agg
	}
	agg.Apply(event)
	return nil
}

func (r *InMemoryAggregateRepo) GetByTest(_ context.Context, testID common.ID) (map[common.ID]*tracking.VariantAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[common.ID]*tracking.VariantAggregate)
	for key, agg := range r.aggs {
		if key.testID == testID {
			cp := *agg
			out[key.variantID] = &cp
		}
	}
	return out, nil
}

// RecordingPublisher captures published events for assertions, optionally
// failing every publish with Err.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*tracking.PerformanceEvent
	Err    error
}

// NewRecordingPublisher creates an empty publisher.
func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(_ context.Context, event *tracking.PerformanceEvent) error {
	if p.Err != nil {
		return p.Err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *event
	p.events = append(p.events, &cp)
	return nil
}

// Published returns a copy of everything published so far.
func (p *RecordingPublisher) Published() []*tracking.PerformanceEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*tracking.PerformanceEvent, len(p.events))
	copy(out, p.events)
	return out
}
