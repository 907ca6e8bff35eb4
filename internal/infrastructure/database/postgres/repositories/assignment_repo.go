package repositories

import (
	"context"
	"database/sql"

	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// AssignmentRepository is the PostgreSQL implementation of
// experiment.AssignmentRepository.  The (test_id, contact_id) primary key
// makes the first-writer-wins insert a single ON CONFLICT DO NOTHING
// statement.
type AssignmentRepository struct {
	db     *sql.DB
	logger logging.Logger
}

// NewAssignmentRepository constructs a ready-to-use AssignmentRepository.
func NewAssignmentRepository(db *sql.DB, logger logging.Logger) *AssignmentRepository {
	return &AssignmentRepository{db: db, logger: logger.Named("assignment_repo")}
}

func (r *AssignmentRepository) Get(ctx context.Context, testID common.ID, contactID string) (*experiment.Assignment, error) {
	var a experiment.Assignment
	err := r.db.QueryRowContext(ctx, `
		SELECT test_id, contact_id, variant_id, created_at
		FROM assignments
		WHERE test_id = $1 AND contact_id = $2`, testID, contactID).
		Scan(&a.TestID, &a.ContactID, &a.VariantID, &a.CreatedAt)
	if isNoRows(err) {
		return nil, errors.New(errors.ErrCodeAssignmentNotFound, "assignment not found").
			WithDetail(testID.String() + ":" + contactID)
	}
	if err != nil {
		return nil, wrapDB(err, "get assignment")
	}
	return &a, nil
}

func (r *AssignmentRepository) InsertIfAbsent(ctx context.Context, a *experiment.Assignment, capacity int) (*experiment.Assignment, bool, error) {
	// The guarded insert re-counts the variant inside the statement, so
	// concurrent admissions for distinct contacts cannot over-fill it on
	// counts that went stale between picking and inserting.
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO assignments (test_id, contact_id, variant_id, created_at)
		SELECT $1, $2, $3, $4
		WHERE (SELECT COUNT(*) FROM assignments
		       WHERE test_id = $1 AND variant_id = $3) < $5
		ON CONFLICT (test_id, contact_id) DO NOTHING`,
		a.TestID, a.ContactID, a.VariantID, a.CreatedAt, capacity,
	)
	if err != nil {
		return nil, false, wrapDB(err, "insert assignment")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return a, true, nil
	}

	// Zero rows means either a same-pair race or a full variant.  A stored
	// row decides the former; its absence means the capacity guard fired.
	existing, err := r.Get(ctx, a.TestID, a.ContactID)
	if errors.IsCode(err, errors.ErrCodeAssignmentNotFound) {
		r.logger.Debug("variant filled before insert, caller re-picks",
			logging.String("test_id", a.TestID.String()),
			logging.String("variant_id", a.VariantID.String()),
		)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	r.logger.Debug("assignment race lost, adopting persisted row",
		logging.String("test_id", a.TestID.String()),
		logging.String("contact_id", a.ContactID),
	)
	return existing, false, nil
}

func (r *AssignmentRepository) CountByVariant(ctx context.Context, testID common.ID) (map[common.ID]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT variant_id, COUNT(*)
		FROM assignments
		WHERE test_id = $1
		GROUP BY variant_id`, testID)
	if err != nil {
		return nil, wrapDB(err, "count assignments")
	}
	defer rows.Close()

	counts := make(map[common.ID]int)
	for rows.Next() {
		var (
			variantID common.ID
			count     int
		)
		if err := rows.Scan(&variantID, &count); err != nil {
			return nil, wrapDB(err, "scan assignment count")
		}
		counts[variantID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate assignment counts")
	}
	return counts, nil
}

func (r *AssignmentRepository) ListByTest(ctx context.Context, testID common.ID) ([]*experiment.Assignment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT test_id, contact_id, variant_id, created_at
		FROM assignments
		WHERE test_id = $1
		ORDER BY created_at, contact_id`, testID)
	if err != nil {
		return nil, wrapDB(err, "list assignments")
	}
	defer rows.Close()

	var assignments []*experiment.Assignment
	for rows.Next() {
		var a experiment.Assignment
		if err := rows.Scan(&a.TestID, &a.ContactID, &a.VariantID, &a.CreatedAt); err != nil {
			return nil, wrapDB(err, "scan assignment")
		}
		assignments = append(assignments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapDB(err, "iterate assignments")
	}
	return assignments, nil
}
