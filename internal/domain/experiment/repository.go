package experiment

import (
	"context"

	"github.com/reachforge/outreach-core/pkg/types/common"
)

// TestRepository persists test configurations and their lifecycle state.
type TestRepository interface {
	Create(ctx context.Context, test *Test) error
	GetByID(ctx context.Context, id common.ID) (*Test, error)
	Update(ctx context.Context, test *Test) error
	List(ctx context.Context, status TestStatus, page common.Pagination) ([]*Test, int64, error)
	ListActive(ctx context.Context) ([]*Test, error)
}

// AssignmentRepository persists sticky contact-to-variant assignments.
type AssignmentRepository interface {
	// Get returns the assignment for the pair, or an ErrCodeAssignmentNotFound
	// error when none exists.
	Get(ctx context.Context, testID common.ID, contactID string) (*Assignment, error)

	// InsertIfAbsent atomically stores the assignment unless one already
	// exists for the (test, contact) pair or the target variant already
	// holds capacity assignments.  It returns the persisted assignment,
	// which is the stored one when a concurrent writer won the same-pair
	// race, and whether the given assignment was the one inserted.
	// (nil, false, nil) means the capacity guard rejected the insert; the
	// caller picks another variant.
	InsertIfAbsent(ctx context.Context, a *Assignment, capacity int) (*Assignment, bool, error)

	// CountByVariant returns the number of assignments per variant for a test.
	// Variants with no assignments may be absent from the map.
	CountByVariant(ctx context.Context, testID common.ID) (map[common.ID]int, error)

	// ListByTest returns every assignment of a test, ordered by creation time.
	ListByTest(ctx context.Context, testID common.ID) ([]*Assignment, error)
}
