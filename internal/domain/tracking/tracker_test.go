package tracking_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/internal/testutil"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

type fixture struct {
	test       *experiment.Test
	tests      *testutil.InMemoryTestRepo
	events     *testutil.InMemoryEventRepo
	aggregates *testutil.InMemoryAggregateRepo
	publisher  *testutil.RecordingPublisher
	tracker    *tracking.Tracker
}

func newFixture(t *testing.T, floor int) *fixture {
	t.Helper()
	f := &fixture{
		test: &experiment.Test{
			ID:   common.NewID(),
			Name: "greeting trial",
			Type: "opener",
			Variants: []experiment.Variant{
				{ID: "var-a", Name: "A", TemplateRef: "tpl-a"},
				{ID: "var-b", Name: "B", TemplateRef: "tpl-b"},
			},
			TargetCount:    10,
			SuccessMetrics: []string{experiment.MetricResponseRate, experiment.MetricConversionRate},
			Status:         experiment.TestStatusActive,
			CreatedAt:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		},
		tests:      testutil.NewInMemoryTestRepo(),
		events:     testutil.NewInMemoryEventRepo(),
		aggregates: testutil.NewInMemoryAggregateRepo(),
		publisher:  testutil.NewRecordingPublisher(),
	}
	require.NoError(t, f.tests.Create(context.Background(), f.test))
	clock := testutil.NewFakeClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	f.tracker = tracking.NewTracker(
		f.tests, f.events, f.aggregates, f.publisher, floor, clock, logging.NewNopLogger(),
	)
	return f
}

// record sends n events of each kind needed to shape a variant's aggregate.
func (f *fixture) record(t *testing.T, variantID common.ID, sent, responded, positive, shipped int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < sent; i++ {
		_, err := f.tracker.RecordEvent(ctx, f.test.ID, variantID, fmt.Sprintf("c-%d", i), tracking.SentDetail{})
		require.NoError(t, err)
	}
	for i := 0; i < responded; i++ {
		sentiment := tracking.SentimentNeutral
		if i < positive {
			sentiment = tracking.SentimentPositive
		}
		_, err := f.tracker.RecordEvent(ctx, f.test.ID, variantID, fmt.Sprintf("c-%d", i),
			tracking.RespondedDetail{Sentiment: sentiment, ResponseTimeHours: 2})
		require.NoError(t, err)
	}
	for i := 0; i < shipped; i++ {
		_, err := f.tracker.RecordEvent(ctx, f.test.ID, variantID, fmt.Sprintf("c-%d", i), tracking.ShippedDetail{})
		require.NoError(t, err)
	}
}

func TestRecordEventAggregates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	ctx := context.Background()

	_, err := f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "c-1", tracking.SentDetail{})
	require.NoError(t, err)
	_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "c-1",
		tracking.RespondedDetail{Sentiment: tracking.SentimentPositive, ResponseTimeHours: 3.5})
	require.NoError(t, err)
	_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "c-1", tracking.ShippedDetail{})
	require.NoError(t, err)
	_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-b", "c-2", tracking.FailedDetail{Reason: "blocked"})
	require.NoError(t, err)

	aggs, err := f.aggregates.GetByTest(ctx, f.test.ID)
	require.NoError(t, err)
	a := aggs["var-a"]
	require.NotNil(t, a)
	assert.EqualValues(t, 1, a.SentCount)
	assert.EqualValues(t, 1, a.RespondedCount)
	assert.EqualValues(t, 1, a.PositiveCount)
	assert.EqualValues(t, 1, a.ShippedCount)
	assert.InDelta(t, 3.5, a.SumResponseTimeHours, 1e-9)
	b := aggs["var-b"]
	require.NotNil(t, b)
	assert.EqualValues(t, 1, b.FailedCount)

	log, err := f.events.ListByTest(ctx, f.test.ID)
	require.NoError(t, err)
	assert.Len(t, log, 4)
	assert.Len(t, f.publisher.Published(), 4)
}

func TestRecordEventValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	ctx := context.Background()

	_, err := f.tracker.RecordEvent(ctx, common.NewID(), "var-a", "c-1", tracking.SentDetail{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeTestNotFound))

	_, err = f.tracker.RecordEvent(ctx, f.test.ID, common.NewID(), "c-1", tracking.SentDetail{})
	assert.True(t, errors.IsCode(err, errors.ErrCodeVariantNotFound))

	_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "c-1",
		tracking.RespondedDetail{Sentiment: "ecstatic"})
	assert.True(t, errors.IsValidation(err))

	_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "c-1",
		tracking.RespondedDetail{Sentiment: tracking.SentimentNeutral, ResponseTimeHours: -1})
	assert.True(t, errors.IsValidation(err))

	_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "c-1", nil)
	assert.True(t, errors.IsValidation(err))
}

func TestRecordEventOnCompletedTestStillAppends(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	ctx := context.Background()
	winner := common.ID("var-a")
	require.NoError(t, f.test.Complete(&winner, experiment.ReasonManual, time.Now()))
	require.NoError(t, f.tests.Update(ctx, f.test))

	_, err := f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "c-1", tracking.SentDetail{})
	require.NoError(t, err)
	log, err := f.events.ListByTest(ctx, f.test.ID)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

func TestRecordEventPublishFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	f.publisher.Err = errors.Internal("broker down")

	_, err := f.tracker.RecordEvent(context.Background(), f.test.ID, "var-a", "c-1", tracking.SentDetail{})
	assert.NoError(t, err)
}

func TestRecordEventInvokesHook(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	var gotTest common.ID
	calls := 0
	f.tracker.SetCompletionHook(func(_ context.Context, testID common.ID) {
		gotTest = testID
		calls++
	})

	_, err := f.tracker.RecordEvent(context.Background(), f.test.ID, "var-a", "c-1", tracking.SentDetail{})
	require.NoError(t, err)
	assert.Equal(t, f.test.ID, gotTest)
	assert.Equal(t, 1, calls)
}

func TestMonotonicAggregatesAndRateBounds(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	ctx := context.Background()

	var prev tracking.VariantAggregate
	details := []tracking.EventDetail{
		tracking.SentDetail{},
		tracking.RespondedDetail{Sentiment: tracking.SentimentPositive, ResponseTimeHours: 1},
		tracking.ShippedDetail{},
		tracking.SentDetail{},
		tracking.FailedDetail{Reason: "bounced"},
		tracking.RespondedDetail{Sentiment: tracking.SentimentNegative, ResponseTimeHours: 8},
	}
	for i, d := range details {
		_, err := f.tracker.RecordEvent(ctx, f.test.ID, "var-a", fmt.Sprintf("c-%d", i), d)
		require.NoError(t, err)

		aggs, err := f.aggregates.GetByTest(ctx, f.test.ID)
		require.NoError(t, err)
		cur := aggs["var-a"]
		assert.GreaterOrEqual(t, cur.SentCount, prev.SentCount)
		assert.GreaterOrEqual(t, cur.RespondedCount, prev.RespondedCount)
		assert.GreaterOrEqual(t, cur.PositiveCount, prev.PositiveCount)
		assert.GreaterOrEqual(t, cur.ShippedCount, prev.ShippedCount)
		assert.GreaterOrEqual(t, cur.FailedCount, prev.FailedCount)
		for _, rate := range []float64{cur.ResponseRate(), cur.ConversionRate(), cur.PositiveRate()} {
			assert.GreaterOrEqual(t, rate, 0.0)
			assert.LessOrEqual(t, rate, 1.0)
		}
		prev = *cur
	}
}

func TestGetResultsRanking(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	ctx := context.Background()

	// var-a: 5 sent, 3 responded.  var-b: 5 sent, 1 responded.
	f.record(t, "var-a", 5, 3, 1, 0)
	f.record(t, "var-b", 5, 1, 0, 0)

	results, err := f.tracker.GetResults(ctx, f.test.ID)
	require.NoError(t, err)
	assert.False(t, results.InsufficientData)
	require.NotNil(t, results.BestVariantID)
	assert.EqualValues(t, "var-a", *results.BestVariantID)

	// 10 sent of 20 target sends.
	assert.InDelta(t, 0.5, results.CompletionPercentage, 1e-9)
	require.Len(t, results.Variants, 2)
	assert.InDelta(t, 0.6, results.Variants[0].ResponseRate, 1e-9)
	assert.InDelta(t, 0.2, results.Variants[1].ResponseRate, 1e-9)
}

func TestGetResultsTieBreaksByNextMetricThenOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	ctx := context.Background()

	// Equal response rates; var-b wins on the second metric (conversion).
	f.record(t, "var-a", 5, 2, 0, 1)
	f.record(t, "var-b", 5, 2, 0, 3)

	results, err := f.tracker.GetResults(ctx, f.test.ID)
	require.NoError(t, err)
	require.NotNil(t, results.BestVariantID)
	assert.EqualValues(t, "var-b", *results.BestVariantID)
}

func TestGetResultsFullTieGoesToEarliestVariant(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.record(t, "var-a", 5, 2, 1, 1)
	f.record(t, "var-b", 5, 2, 1, 1)

	results, err := f.tracker.GetResults(context.Background(), f.test.ID)
	require.NoError(t, err)
	require.NotNil(t, results.BestVariantID)
	assert.EqualValues(t, "var-a", *results.BestVariantID)
}

func TestGetResultsLowerIsBetterMetric(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.test.SuccessMetrics = []string{experiment.MetricAvgResponseTime}
	require.NoError(t, f.tests.Update(context.Background(), f.test))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := f.tracker.RecordEvent(ctx, f.test.ID, "var-a", fmt.Sprintf("a-%d", i), tracking.SentDetail{})
		require.NoError(t, err)
		_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-b", fmt.Sprintf("b-%d", i), tracking.SentDetail{})
		require.NoError(t, err)
	}
	_, err := f.tracker.RecordEvent(ctx, f.test.ID, "var-a", "a-0",
		tracking.RespondedDetail{Sentiment: tracking.SentimentNeutral, ResponseTimeHours: 12})
	require.NoError(t, err)
	_, err = f.tracker.RecordEvent(ctx, f.test.ID, "var-b", "b-0",
		tracking.RespondedDetail{Sentiment: tracking.SentimentNeutral, ResponseTimeHours: 2})
	require.NoError(t, err)

	results, err := f.tracker.GetResults(ctx, f.test.ID)
	require.NoError(t, err)
	require.NotNil(t, results.BestVariantID)
	assert.EqualValues(t, "var-b", *results.BestVariantID)
}

func TestGetResultsInsufficientData(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	f.record(t, "var-a", 5, 2, 1, 0)
	f.record(t, "var-b", 5, 3, 2, 0)

	results, err := f.tracker.GetResults(context.Background(), f.test.ID)
	require.NoError(t, err)
	assert.True(t, results.InsufficientData)
	assert.Nil(t, results.BestVariantID)
}

func TestGetResultsUnknownTest(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 20)
	_, err := f.tracker.GetResults(context.Background(), common.NewID())
	assert.True(t, errors.IsNotFound(err))
}

func TestExportResultsCSV(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 3)
	f.record(t, "var-a", 5, 3, 2, 1)
	f.record(t, "var-b", 5, 1, 0, 0)

	var buf bytes.Buffer
	require.NoError(t, f.tracker.ExportResults(context.Background(), f.test.ID, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "variant_id")
	assert.Contains(t, lines[1], "var-a")
	assert.Contains(t, lines[1], "0.6000") // response rate
	assert.True(t, strings.HasSuffix(lines[1], ",yes"))
	assert.True(t, strings.HasSuffix(lines[2], ","))
}
