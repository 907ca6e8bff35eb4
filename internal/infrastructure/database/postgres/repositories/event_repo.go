package repositories

import (
	"context"
	"database/sql"

	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// EventRepository is the PostgreSQL implementation of
// tracking.EventRepository.  The table is append-only; rows are never
// updated or deleted, so aggregates can always be rebuilt from it.
type EventRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewEventRepository constructs a ready-to-use EventRepository.
func NewEventRepository(db *sql.DB, logger logging.Logger) *EventRepository {
	return &EventRepository{db: db, logger: logger.Named("event_repo")}
}

func (r *EventRepository) Append(ctx context.Context, event *tracking.PerformanceEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO performance_events (
			id, test_id, variant_id, contact_id, type, ts,
			sentiment, response_time_hours, failure_reason
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.ID, event.TestID, event.VariantID, event.ContactID,
		event.Type, event.Timestamp,
		event.Sentiment, event.ResponseTimeHours, event.FailureReason,
	)
	if err != nil {
		return wrapDB(err, "append event")
	}
	return nil
}

func (r *EventRepository) ListByTest(ctx context.Context, testID common.ID) ([]*tracking.PerformanceEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, test_id, variant_id, contact_id, type, ts,
		       sentiment, response_time_hours, failure_reason
		FROM performance_events
		WHERE test_id = $1
		ORDER BY ts, id`, testID)
	if err != nil {
		return nil, wrapDB(err, "list events")
	}
	defer rows.Close()

	var events []*tracking.PerformanceEvent
	for rows.Next() {
		var (
			e         tracking.PerformanceEvent
			sentiment sql.NullString
			reason    sql.NullString
		)
		err := rows.Scan(
			&e.ID, &e.TestID, &e.VariantID, &e.ContactID, &e.Type, &e.Timestamp,
			&sentiment, &e.ResponseTimeHours, &reason,
		)
		if err != nil {
			return nil, wrapDB(err, "scan event")
		}
		e.Sentiment = tracking.Sentiment(sentiment.String)
		e.FailureReason = reason.String
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate events")
	}
	return events, nil
}
