package repositories

import (
	"context"
	"database/sql"

	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// AggregateRepository is the PostgreSQL implementation of
// tracking.AggregateRepository.  Apply is a single UPSERT whose increments
// run inside the database, so concurrent recorders never lose updates.
type AggregateRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewAggregateRepository constructs a ready-to-use AggregateRepository.
func NewAggregateRepository(db *sql.DB, logger logging.Logger) *AggregateRepository {
	return &AggregateRepository{db: db, logger: logger.Named("aggregate_repo")}
}

func (r *AggregateRepository) Apply(ctx context.Context, event *tracking.PerformanceEvent) error {
	var delta tracking.VariantAggregate
	delta.Apply(event)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO variant_aggregates (
			test_id, variant_id, sent_count, responded_count,
			positive_count, shipped_count, failed_count, sum_response_time_hours
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (test_id, variant_id) DO UPDATE SET
			sent_count              = variant_aggregates.sent_count + EXCLUDED.sent_count,
			responded_count         = variant_aggregates.responded_count + EXCLUDED.responded_count,
			positive_count          = variant_aggregates.positive_count + EXCLUDED.positive_count,
			shipped_count           = variant_aggregates.shipped_count + EXCLUDED.shipped_count,
			failed_count            = variant_aggregates.failed_count + EXCLUDED.failed_count,
			sum_response_time_hours = variant_aggregates.sum_response_time_hours + EXCLUDED.sum_response_time_hours`,
		event.TestID, event.VariantID, delta.SentCount, delta.RespondedCount,
		delta.PositiveCount, delta.ShippedCount, delta.FailedCount,
		delta.SumResponseTimeHours,
	)
	if err != nil {
		return wrapDB(err, "apply event to aggregate")
	}
	return nil
}

func (r *AggregateRepository) GetByTest(ctx context.Context, testID common.ID) (map[common.ID]*tracking.VariantAggregate, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT test_id, variant_id, sent_count, responded_count,
		       positive_count, shipped_count, failed_count, sum_response_time_hours
		FROM variant_aggregates
		WHERE test_id = $1`, testID)
	if err != nil {
		return nil, wrapDB(err, "get aggregates")
	}
	defer rows.Close()

	aggregates := make(map[common.ID]*tracking.VariantAggregate)
	for rows.Next() {
		var a tracking.VariantAggregate
		err := rows.Scan(
			&a.TestID, &a.VariantID, &a.SentCount, &a.RespondedCount,
			&a.PositiveCount, &a.ShippedCount, &a.FailedCount,
			&a.SumResponseTimeHours,
		)
		if err != nil {
			return nil, wrapDB(err, "scan aggregate")
		}
		aggregates[a.VariantID] = &a
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate aggregates")
	}
	return aggregates, nil
}
