package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"

	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// TestRepository is the PostgreSQL implementation of
// experiment.TestRepository.  Variants and success metrics are stored as
// JSONB columns; the test row itself is small and mutated only through the
// lifecycle transitions.
type TestRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewTestRepository constructs a ready-to-use TestRepository.
func NewTestRepository(db *sql.DB, logger logging.Logger) *TestRepository {
	return &TestRepository{db: db, logger: logger.Named("test_repo")}
}

const testColumns = `
	id, name, type, variants, target_count, success_metrics,
	auto_declare_winner, max_duration_days, status, created_at,
	winner_variant_id, completed_at, completion_reason`

func (r *TestRepository) Create(ctx context.Context, test *experiment.Test) error {
	variantsJSON, err := json.Marshal(test.Variants)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal variants")
	}
	metricsJSON, err := json.Marshal(test.SuccessMetrics)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal success_metrics")
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO tests (`+testColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING`,
		test.ID, test.Name, test.Type, variantsJSON, test.TargetCount, metricsJSON,
		test.AutoDeclareWinner, test.MaxDurationDays, test.Status, test.CreatedAt,
		nullableID(test.WinnerVariantID), test.CompletedAt, test.CompletionReason,
	)
	if err != nil {
		return wrapDB(err, "insert test")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrCodeTestAlreadyExists, "test already exists").
			WithDetail(test.ID.String())
	}
	r.logger.Debug("test created", logging.String("test_id", test.ID.String()))
	return nil
}

func (r *TestRepository) GetByID(ctx context.Context, id common.ID) (*experiment.Test, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+testColumns+` FROM tests WHERE id = $1`, id)
	test, err := scanTest(row)
	if isNoRows(err) {
		return nil, errors.New(errors.ErrCodeTestNotFound, "test not found").
			WithDetail(id.String())
	}
	if err != nil {
		return nil, wrapDB(err, "get test")
	}
	return test, nil
}

func (r *TestRepository) Update(ctx context.Context, test *experiment.Test) error {
	variantsJSON, err := json.Marshal(test.Variants)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal variants")
	}
	metricsJSON, err := json.Marshal(test.SuccessMetrics)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "marshal success_metrics")
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE tests SET
			name = $2, type = $3, variants = $4, target_count = $5,
			success_metrics = $6, auto_declare_winner = $7,
			max_duration_days = $8, status = $9,
			winner_variant_id = $10, completed_at = $11, completion_reason = $12
		WHERE id = $1`,
		test.ID, test.Name, test.Type, variantsJSON, test.TargetCount,
		metricsJSON, test.AutoDeclareWinner, test.MaxDurationDays, test.Status,
		nullableID(test.WinnerVariantID), test.CompletedAt, test.CompletionReason,
	)
	if err != nil {
		return wrapDB(err, "update test")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrCodeTestNotFound, "test not found").
			WithDetail(test.ID.String())
	}
	return nil
}

func (r *TestRepository) List(ctx context.Context, status experiment.TestStatus, page common.Pagination) ([]*experiment.Test, int64, error) {
	where := ""
	args := []interface{}{}
	if status != "" {
		where = " WHERE status = $1"
		args = append(args, status)
	}

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tests`+where, args...).Scan(&total); err != nil {
		return nil, 0, wrapDB(err, "count tests")
	}

	limitPos := len(args) + 1
	args = append(args, page.Limit(), page.Offset())
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+testColumns+` FROM tests`+where+`
		ORDER BY created_at, id
		LIMIT $`+strconv.Itoa(limitPos)+` OFFSET $`+strconv.Itoa(limitPos+1), args...)
	if err != nil {
		return nil, 0, wrapDB(err, "list tests")
	}
	defer rows.Close()

	tests, err := collectTests(rows)
	if err != nil {
		return nil, 0, err
	}
	return tests, total, nil
}

func (r *TestRepository) ListActive(ctx context.Context) ([]*experiment.Test, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+testColumns+` FROM tests
		WHERE status = $1
		ORDER BY created_at, id`, experiment.TestStatusActive)
	if err != nil {
		return nil, wrapDB(err, "list active tests")
	}
	defer rows.Close()
	return collectTests(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTest(row rowScanner) (*experiment.Test, error) {
	var (
		test         experiment.Test
		variantsJSON []byte
		metricsJSON  []byte
		winner       sql.NullString
		completedAt  sql.NullTime
		reason       sql.NullString
	)
	err := row.Scan(
		&test.ID, &test.Name, &test.Type, &variantsJSON, &test.TargetCount,
		&metricsJSON, &test.AutoDeclareWinner, &test.MaxDurationDays,
		&test.Status, &test.CreatedAt, &winner, &completedAt, &reason,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(variantsJSON, &test.Variants); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshal variants")
	}
	if err := json.Unmarshal(metricsJSON, &test.SuccessMetrics); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeSerialization, "unmarshal success_metrics")
	}
	if winner.Valid {
		id := common.ID(winner.String)
		test.WinnerVariantID = &id
	}
	if completedAt.Valid {
		t := completedAt.Time
		test.CompletedAt = &t
	}
	test.CompletionReason = reason.String
	return &test, nil
}

func collectTests(rows *sql.Rows) ([]*experiment.Test, error) {
	var tests []*experiment.Test
	for rows.Next() {
		test, err := scanTest(rows)
		if err != nil {
			return nil, wrapDB(err, "scan test")
		}
		tests = append(tests, test)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate tests")
	}
	return tests, nil
}

func nullableID(id *common.ID) interface{} {
	if id == nil {
		return nil
	}
	return id.String()
}
