package repositories

import (
	"context"
	"database/sql"

	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// RateStateRepository is the PostgreSQL implementation of
// dispatch.RateStateRepository.  One row per sending account, keyed by the
// account key; the worker is the only writer.
type RateStateRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewRateStateRepository constructs a ready-to-use RateStateRepository.
func NewRateStateRepository(db *sql.DB, logger logging.Logger) *RateStateRepository {
	return &RateStateRepository{db: db, logger: logger.Named("rate_repo")}
}

func (r *RateStateRepository) Get(ctx context.Context, key common.AccountKey) (*dispatch.AccountRateState, error) {
	var state dispatch.AccountRateState
	err := r.db.QueryRowContext(ctx, `
		SELECT account_key, sent_today, daily_limit, window_reset_at
		FROM account_rate_states
		WHERE account_key = $1`, key).
		Scan(&state.AccountKey, &state.SentToday, &state.DailyLimit, &state.WindowResetAt)
	if isNoRows(err) {
		return nil, errors.NotFound("rate state not found").WithDetail(key.String())
	}
	if err != nil {
		return nil, wrapDB(err, "get rate state")
	}
	return &state, nil
}

func (r *RateStateRepository) Save(ctx context.Context, state *dispatch.AccountRateState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO account_rate_states (account_key, sent_today, daily_limit, window_reset_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (account_key) DO UPDATE SET
			sent_today      = EXCLUDED.sent_today,
			daily_limit     = EXCLUDED.daily_limit,
			window_reset_at = EXCLUDED.window_reset_at`,
		state.AccountKey, state.SentToday, state.DailyLimit, state.WindowResetAt,
	)
	if err != nil {
		return wrapDB(err, "save rate state")
	}
	return nil
}
