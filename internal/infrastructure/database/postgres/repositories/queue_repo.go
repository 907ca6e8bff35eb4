package repositories

import (
	"context"
	"database/sql"

	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// QueueRepository is the PostgreSQL implementation of
// dispatch.QueueRepository.  Save is an UPSERT because items move through
// several statuses during their lifecycle; terminal rows remain as the
// delivery audit log.
type QueueRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewQueueRepository constructs a ready-to-use QueueRepository.
func NewQueueRepository(db *sql.DB, logger logging.Logger) *QueueRepository {
	return &QueueRepository{db: db, logger: logger.Named("queue_repo")}
}

const queueItemColumns = `
	id, account_key, recipient, payload, priority, status, attempts,
	created_at, scheduled_at, sent_at, failure_reason,
	test_id, variant_id, contact_id`

func (r *QueueRepository) Save(ctx context.Context, item *dispatch.QueueItem) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO queue_items (`+queueItemColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			priority       = EXCLUDED.priority,
			status         = EXCLUDED.status,
			attempts       = EXCLUDED.attempts,
			scheduled_at   = EXCLUDED.scheduled_at,
			sent_at        = EXCLUDED.sent_at,
			failure_reason = EXCLUDED.failure_reason`,
		item.ID, item.AccountKey, item.Recipient, item.Payload,
		item.Priority, item.Status, item.Attempts,
		item.CreatedAt, item.ScheduledAt, item.SentAt, item.FailureReason,
		item.Metadata.TestID, item.Metadata.VariantID, item.Metadata.ContactID,
	)
	if err != nil {
		return wrapDB(err, "save queue item")
	}
	return nil
}

func (r *QueueRepository) GetByID(ctx context.Context, id common.ID) (*dispatch.QueueItem, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+queueItemColumns+` FROM queue_items WHERE id = $1`, id)
	item, err := scanQueueItem(row)
	if isNoRows(err) {
		return nil, errors.New(errors.ErrCodeQueueItemNotFound, "queue item not found").
			WithDetail(id.String())
	}
	if err != nil {
		return nil, wrapDB(err, "get queue item")
	}
	return item, nil
}

func (r *QueueRepository) ListPending(ctx context.Context) ([]*dispatch.QueueItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueItemColumns+` FROM queue_items
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at, id`,
		dispatch.StatusQueued, dispatch.StatusSending, dispatch.StatusRetryWait)
	if err != nil {
		return nil, wrapDB(err, "list pending queue items")
	}
	defer rows.Close()

	var items []*dispatch.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, wrapDB(err, "scan queue item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate queue items")
	}
	return items, nil
}

func scanQueueItem(row rowScanner) (*dispatch.QueueItem, error) {
	var (
		item      dispatch.QueueItem
		sentAt    sql.NullTime
		reason    sql.NullString
		testID    sql.NullString
		variantID sql.NullString
		contactID sql.NullString
	)
	err := row.Scan(
		&item.ID, &item.AccountKey, &item.Recipient, &item.Payload,
		&item.Priority, &item.Status, &item.Attempts,
		&item.CreatedAt, &item.ScheduledAt, &sentAt, &reason,
		&testID, &variantID, &contactID,
	)
	if err != nil {
		return nil, err
	}
	if sentAt.Valid {
		t := sentAt.Time
		item.SentAt = &t
	}
	item.FailureReason = reason.String
	item.Metadata = dispatch.ItemMetadata{
		TestID:    common.ID(testID.String),
		VariantID: common.ID(variantID.String),
		ContactID: contactID.String,
	}
	return &item, nil
}
