package tracking

import (
	"context"

	"github.com/reachforge/outreach-core/pkg/types/common"
)

// EventRepository stores the append-only performance event log.
type EventRepository interface {
	Append(ctx context.Context, event *PerformanceEvent) error
	ListByTest(ctx context.Context, testID common.ID) ([]*PerformanceEvent, error)
}

// AggregateRepository maintains the per-variant counters.  Apply must be an
// atomic increment so concurrent recorders never lose updates.
type AggregateRepository interface {
	Apply(ctx context.Context, event *PerformanceEvent) error
	GetByTest(ctx context.Context, testID common.ID) (map[common.ID]*VariantAggregate, error)
}

// EventPublisher mirrors recorded events onto an external audit stream.
// Publishing is best-effort; a failed publish never fails the recording.
type EventPublisher interface {
	Publish(ctx context.Context, event *PerformanceEvent) error
}
