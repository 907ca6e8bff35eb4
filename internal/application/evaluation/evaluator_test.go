package evaluation_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachforge/outreach-core/internal/application/evaluation"
	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/testutil"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

type fixture struct {
	test      *experiment.Test
	tests     *testutil.InMemoryTestRepo
	tracker   *tracking.Tracker
	evaluator *evaluation.Evaluator
	clock     *testutil.FakeClock
}

func newFixture(t *testing.T, targetCount, floor int, autoDeclare bool) *fixture {
	t.Helper()
	f := &fixture{
		test: &experiment.Test{
			ID:   common.NewID(),
			Name: "closer trial",
			Type: "closer",
			Variants: []experiment.Variant{
				{ID: "var-a", Name: "A", TemplateRef: "tpl-a"},
				{ID: "var-b", Name: "B", TemplateRef: "tpl-b"},
			},
			TargetCount:       targetCount,
			SuccessMetrics:    []string{experiment.MetricResponseRate},
			AutoDeclareWinner: autoDeclare,
			MaxDurationDays:   14,
			Status:            experiment.TestStatusActive,
			CreatedAt:         time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		tests: testutil.NewInMemoryTestRepo(),
		clock: testutil.NewFakeClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)),
	}
	require.NoError(t, f.tests.Create(context.Background(), f.test))
	f.tracker = tracking.NewTracker(
		f.tests,
		testutil.NewInMemoryEventRepo(),
		testutil.NewInMemoryAggregateRepo(),
		nil,
		floor,
		f.clock,
		logging.NewNopLogger(),
	)
	f.evaluator = evaluation.NewEvaluator(f.tests, f.tracker, nil, f.clock, logging.NewNopLogger())
	return f
}

// fill records `sent` sends and `responded` responses for a variant.
func (f *fixture) fill(t *testing.T, variantID common.ID, sent, responded int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < sent; i++ {
		_, err := f.tracker.RecordEvent(ctx, f.test.ID, variantID, fmt.Sprintf("c-%d", i), tracking.SentDetail{})
		require.NoError(t, err)
	}
	for i := 0; i < responded; i++ {
		_, err := f.tracker.RecordEvent(ctx, f.test.ID, variantID, fmt.Sprintf("c-%d", i),
			tracking.RespondedDetail{Sentiment: tracking.SentimentNeutral, ResponseTimeHours: 1})
		require.NoError(t, err)
	}
}

func (f *fixture) reload(t *testing.T) *experiment.Test {
	t.Helper()
	test, err := f.tests.GetByID(context.Background(), f.test.ID)
	require.NoError(t, err)
	return test
}

func TestDeclareWinnerManual(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10, 5, false)
	ctx := context.Background()

	done, err := f.evaluator.DeclareWinner(ctx, f.test.ID, "var-b")
	require.NoError(t, err)
	assert.Equal(t, experiment.TestStatusCompleted, done.Status)
	require.NotNil(t, done.WinnerVariantID)
	assert.EqualValues(t, "var-b", *done.WinnerVariantID)
	assert.Equal(t, experiment.ReasonManual, done.CompletionReason)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, f.clock.Now(), *done.CompletedAt)

	// Repeating with the same winner is a no-op producing the same result.
	again, err := f.evaluator.DeclareWinner(ctx, f.test.ID, "var-b")
	require.NoError(t, err)
	assert.EqualValues(t, "var-b", *again.WinnerVariantID)

	// A different winner after completion is a conflict.
	_, err = f.evaluator.DeclareWinner(ctx, f.test.ID, "var-a")
	assert.True(t, errors.IsCode(err, errors.ErrCodeTestCompleted))
}

func TestDeclareWinnerValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10, 5, false)
	ctx := context.Background()

	_, err := f.evaluator.DeclareWinner(ctx, f.test.ID, common.NewID())
	assert.True(t, errors.IsValidation(err))

	_, err = f.evaluator.DeclareWinner(ctx, common.NewID(), "var-a")
	assert.True(t, errors.IsNotFound(err))
}

func TestDeclareWinnerOnDraftRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 10, 5, false)
	ctx := context.Background()
	f.test.Status = experiment.TestStatusDraft
	require.NoError(t, f.tests.Update(ctx, f.test))

	_, err := f.evaluator.DeclareWinner(ctx, f.test.ID, "var-a")
	assert.Error(t, err)
	assert.Equal(t, experiment.TestStatusDraft, f.reload(t).Status)
}

func TestAutomaticCompletionOnTargetReached(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5, 5, true)
	f.fill(t, "var-a", 5, 3)
	f.fill(t, "var-b", 4, 1)

	// One variant under target: no completion yet.
	require.NoError(t, f.evaluator.EvaluateTest(context.Background(), f.test.ID))
	assert.Equal(t, experiment.TestStatusActive, f.reload(t).Status)

	f.fill(t, "var-b", 1, 0)
	require.NoError(t, f.evaluator.EvaluateTest(context.Background(), f.test.ID))
	done := f.reload(t)
	assert.Equal(t, experiment.TestStatusCompleted, done.Status)
	require.NotNil(t, done.WinnerVariantID)
	assert.EqualValues(t, "var-a", *done.WinnerVariantID)
	assert.Equal(t, experiment.ReasonTargetReached, done.CompletionReason)
}

func TestAutomaticCompletionOnDurationElapsed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100, 5, true)
	f.fill(t, "var-a", 10, 5)
	f.fill(t, "var-b", 10, 2)

	require.NoError(t, f.evaluator.EvaluateTest(context.Background(), f.test.ID))
	assert.Equal(t, experiment.TestStatusActive, f.reload(t).Status)

	f.clock.Advance(15 * 24 * time.Hour)
	require.NoError(t, f.evaluator.EvaluateTest(context.Background(), f.test.ID))
	done := f.reload(t)
	assert.Equal(t, experiment.TestStatusCompleted, done.Status)
	require.NotNil(t, done.WinnerVariantID)
	assert.EqualValues(t, "var-a", *done.WinnerVariantID)
	assert.Equal(t, experiment.ReasonDurationElapsed, done.CompletionReason)
}

func TestInsufficientDataCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100, 20, true)
	f.fill(t, "var-a", 5, 1)
	f.fill(t, "var-b", 5, 2)

	f.clock.Advance(15 * 24 * time.Hour)
	require.NoError(t, f.evaluator.EvaluateTest(context.Background(), f.test.ID))
	done := f.reload(t)
	assert.Equal(t, experiment.TestStatusCompleted, done.Status)
	assert.Nil(t, done.WinnerVariantID)
	assert.Equal(t, experiment.ReasonInsufficientData, done.CompletionReason)
}

func TestManualOverrideWins(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5, 5, true)
	ctx := context.Background()
	// var-a would win on response rate.
	f.fill(t, "var-a", 5, 4)
	f.fill(t, "var-b", 5, 1)

	_, err := f.evaluator.DeclareWinner(ctx, f.test.ID, "var-b")
	require.NoError(t, err)

	// A later automatic trigger must not alter status or winner.
	require.NoError(t, f.evaluator.EvaluateTest(ctx, f.test.ID))
	done := f.reload(t)
	assert.Equal(t, experiment.TestStatusCompleted, done.Status)
	require.NotNil(t, done.WinnerVariantID)
	assert.EqualValues(t, "var-b", *done.WinnerVariantID)
	assert.Equal(t, experiment.ReasonManual, done.CompletionReason)
}

func TestAutoDeclareDisabledNeverCompletes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 5, 5, false)
	f.fill(t, "var-a", 5, 3)
	f.fill(t, "var-b", 5, 1)

	require.NoError(t, f.evaluator.EvaluateTest(context.Background(), f.test.ID))
	assert.Equal(t, experiment.TestStatusActive, f.reload(t).Status)
}

func TestCompletionHookDrivesEvaluation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, 2, true)
	f.tracker.SetCompletionHook(f.evaluator.CompletionHook())
	ctx := context.Background()

	// The final sent event tips the test over its target via the hook.
	for _, v := range []common.ID{"var-a", "var-b"} {
		for i := 0; i < 2; i++ {
			_, err := f.tracker.RecordEvent(ctx, f.test.ID, v, fmt.Sprintf("c-%d", i), tracking.SentDetail{})
			require.NoError(t, err)
		}
	}
	assert.Equal(t, experiment.TestStatusCompleted, f.reload(t).Status)
}

func TestEvaluateAll(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 2, 2, true)
	f.fill(t, "var-a", 2, 1)
	f.fill(t, "var-b", 2, 0)

	require.NoError(t, f.evaluator.EvaluateAll(context.Background()))
	assert.Equal(t, experiment.TestStatusCompleted, f.reload(t).Status)
}
