package testutil

import (
	"context"
	"sort"
	"sync"

	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// InMemoryTestRepo is a map-backed experiment.TestRepository.
type InMemoryTestRepo struct {
	mu    sync.RWMutex
	tests map[common.ID]*experiment.Test
}

// NewInMemoryTestRepo creates an empty test repository.
func NewInMemoryTestRepo() *InMemoryTestRepo {
	return &InMemoryTestRepo{tests: make(map[common.ID]*experiment.Test)}
}

func (r *InMemoryTestRepo) Create(_ context.Context, test *experiment.Test) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tests[test.ID]; ok {
		return errors.New(errors.ErrCodeTestAlreadyExists, "test already exists").
			WithDetail(test.ID.String())
	}
	cp := *test
	r.tests[test.ID] = &cp
	return nil
}

func (r *InMemoryTestRepo) GetByID(_ context.Context, id common.ID) (*experiment.Test, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tests[id]
	if !ok {
		return nil, errors.New(errors.ErrCodeTestNotFound, "test not found").
			WithDetail(id.String())
	}
	cp := *t
	return &cp, nil
}

func (r *InMemoryTestRepo) Update(_ context.Context, test *experiment.Test) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tests[test.ID]; !ok {
		return errors.New(errors.ErrCodeTestNotFound, "test not found").
			WithDetail(test.ID.String())
	}
	cp := *test
	r.tests[test.ID] = &cp
	return nil
}

func (r *InMemoryTestRepo) List(_ context.Context, status experiment.TestStatus, page common.Pagination) ([]*experiment.Test, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var all []*experiment.Test
	for _, t := range r.tests {
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	total := int64(len(all))
	off := page.Offset()
	if off >= len(all) {
		return nil, total, nil
	}
	end := off + page.Limit()
	if end > len(all) {
		end = len(all)
	}
	return all[off:end], total, nil
}

func (r *InMemoryTestRepo) ListActive(ctx context.Context) ([]*experiment.Test, error) {
	all, _, err := r.List(ctx, experiment.TestStatusActive, common.Pagination{PageSize: 200})
	return all, err
}

type assignmentKey struct {
	testID    common.ID
	contactID string
}

// InMemoryAssignmentRepo is a map-backed experiment.AssignmentRepository
// whose InsertIfAbsent has the same first-writer-wins and capacity-guard
// semantics as the Postgres implementation.
type InMemoryAssignmentRepo struct {
	mu          sync.Mutex
	assignments map[assignmentKey]*experiment.Assignment
	order       []assignmentKey
}

// NewInMemoryAssignmentRepo creates an empty assignment repository.
func NewInMemoryAssignmentRepo() *InMemoryAssignmentRepo {
	return &InMemoryAssignmentRepo{assignments: make(map[assignmentKey]*experiment.Assignment)}
}

func (r *InMemoryAssignmentRepo) Get(_ context.Context, testID common.ID, contactID string) (*experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentKey{testID, contactID}]
	if !ok {
		return nil, errors.New(errors.ErrCodeAssignmentNotFound, "assignment not found")
	}
	cp := *a
	return &cp, nil
}

func (r *InMemoryAssignmentRepo) InsertIfAbsent(_ context.Context, a *experiment.Assignment, capacity int) (*experiment.Assignment, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assignmentKey{a.TestID, a.ContactID}
	if existing, ok := r.assignments[key]; ok {
		cp := *existing
		return &cp, false, nil
	}
	if capacity > 0 {
		held := 0
		for k, other := range r.assignments {
			if k.testID == a.TestID && other.VariantID == a.VariantID {
				held++
			}
		}
		if held >= capacity {
			return nil, false, nil
		}
	}
	cp := *a
	r.assignments[key] = &cp
	r.order = append(r.order, key)
	out := cp
	return &out, true, nil
}

func (r *InMemoryAssignmentRepo) CountByVariant(_ context.Context, testID common.ID) (map[common.ID]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[common.ID]int)
	for key, a := range r.assignments {
		if key.testID == testID {
			counts[a.VariantID]++
		}
	}
	return counts, nil
}

func (r *InMemoryAssignmentRepo) ListByTest(_ context.Context, testID common.ID) ([]*experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*experiment.Assignment
	for _, key := range r.order {
		if key.testID != testID {
			continue
		}
		cp := *r.assignments[key]
		out = append(out, &cp)
	}
	return out, nil
}
