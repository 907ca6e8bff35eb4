package experiment

import (
	"context"
	"hash/fnv"

	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// Engine resolves the variant a contact belongs to.  Resolution is sticky:
// the first call for a (test, contact) pair persists the decision and every
// later call returns the same variant, regardless of interleaving with other
// contacts or concurrent callers.
type Engine struct {
	tests       TestRepository
	assignments AssignmentRepository
	clock       common.Clock
	logger      logging.Logger
}

// NewEngine builds an assignment engine.
func NewEngine(tests TestRepository, assignments AssignmentRepository, clock common.Clock, logger logging.Logger) *Engine {
	if clock == nil {
		clock = common.SystemClock{}
	}
	return &Engine{
		tests:       tests,
		assignments: assignments,
		clock:       clock,
		logger:      logger.Named("assignment"),
	}
}

// GetVariant returns the variant assigned to contactID in the given test,
// creating the assignment on first call.  It returns (nil, nil) when every
// variant of the test has reached its target count, which signals the caller
// to skip the contact rather than treat it as an error.
func (e *Engine) GetVariant(ctx context.Context, testID common.ID, contactID string) (*Variant, error) {
	if contactID == "" {
		return nil, errors.InvalidParam("contact id is required")
	}
	test, err := e.tests.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}

	// An existing assignment always wins, even after the test completed or
	// filled up, so repeat callers keep seeing a stable answer.
	existing, err := e.assignments.Get(ctx, testID, contactID)
	if err == nil {
		return e.variantOf(test, existing.VariantID)
	}
	if !errors.IsCode(err, errors.ErrCodeAssignmentNotFound) {
		return nil, err
	}

	if !test.IsActive() {
		return nil, errors.New(errors.ErrCodeTestNotActive, "test is not accepting assignments").
			WithDetail(string(test.Status))
	}

	// The repository re-checks capacity at insert time, so counts read
	// during picking may be stale.  On a guard rejection the filled variant
	// is excluded and the pick repeats; the loop ends once every variant is
	// assigned or excluded.
	full := make(map[common.ID]bool)
	for {
		candidate, err := e.pickVariant(ctx, test, contactID, full)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			e.logger.Debug("test at capacity, contact skipped",
				logging.String("test_id", testID.String()),
				logging.String("contact_id", contactID))
			return nil, nil
		}

		persisted, created, err := e.assignments.InsertIfAbsent(ctx, &Assignment{
			TestID:    testID,
			ContactID: contactID,
			VariantID: candidate.ID,
			CreatedAt: e.clock.Now(),
		}, test.TargetCount)
		if err != nil {
			return nil, err
		}
		if created {
			e.logger.Debug("assigned contact to variant",
				logging.String("test_id", testID.String()),
				logging.String("contact_id", contactID),
				logging.String("variant_id", candidate.ID.String()))
			return candidate, nil
		}
		if persisted != nil {
			// A concurrent call for the same pair won the insert.  Its
			// choice is the sticky one.
			return e.variantOf(test, persisted.VariantID)
		}

		// Capacity guard rejected: the variant filled between count and
		// insert.
		full[candidate.ID] = true
	}
}

// pickVariant hashes the pair into a weighted bucket, then walks forward in
// variant order to the first non-excluded variant with spare capacity so
// that the final distribution lands on an exact per-variant split.  Returns
// nil when the test is full.
func (e *Engine) pickVariant(ctx context.Context, test *Test, contactID string, excluded map[common.ID]bool) (*Variant, error) {
	counts, err := e.assignments.CountByVariant(ctx, test.ID)
	if err != nil {
		return nil, err
	}
	start := bucketIndex(test, contactID)
	n := len(test.Variants)
	for i := 0; i < n; i++ {
		v := &test.Variants[(start+i)%n]
		if !excluded[v.ID] && counts[v.ID] < test.TargetCount {
			return v, nil
		}
	}
	return nil, nil
}

// bucketIndex reduces the FNV-64a hash of "testID:contactID" over the
// cumulative variant weights.  The same pair always lands in the same bucket.
func bucketIndex(test *Test, contactID string) int {
	h := fnv.New64a()
	h.Write([]byte(test.ID.String()))
	h.Write([]byte(":"))
	h.Write([]byte(contactID))
	weights := test.EffectiveWeights()
	var total float64
	for _, w := range weights {
		total += w
	}
	// Map the hash onto [0, total) with plenty of resolution, then find the
	// cumulative-weight bucket it falls into.
	const buckets = 1 << 16
	point := float64(h.Sum64()%buckets) / buckets * total
	var cum float64
	for i, w := range weights {
		cum += w
		if point < cum {
			return i
		}
	}
	return len(weights) - 1
}

func (e *Engine) variantOf(test *Test, variantID common.ID) (*Variant, error) {
	v := test.VariantByID(variantID)
	if v == nil {
		return nil, errors.New(errors.ErrCodeVariantNotFound, "assigned variant missing from test").
			WithDetail(variantID.String())
	}
	return v, nil
}
