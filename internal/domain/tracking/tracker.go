package tracking

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/infrastructure/monitoring/logging"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// CompletionHook is invoked after an event lands so the winner evaluator can
// run its completion check without the tracker depending on it directly.
type CompletionHook func(ctx context.Context, testID common.ID)

// VariantResult is the per-variant slice of a results report.
type VariantResult struct {
	VariantID            common.ID `json:"variant_id"`
	VariantName          string    `json:"variant_name"`
	SentCount            int64     `json:"sent_count"`
	RespondedCount       int64     `json:"responded_count"`
	PositiveCount        int64     `json:"positive_count"`
	ShippedCount         int64     `json:"shipped_count"`
	FailedCount          int64     `json:"failed_count"`
	ResponseRate         float64   `json:"response_rate"`
	ConversionRate       float64   `json:"conversion_rate"`
	PositiveRate         float64   `json:"positive_rate"`
	AvgResponseTimeHours float64   `json:"avg_response_time_hours"`
}

// TestResults is the full report for one test.
type TestResults struct {
	TestID               common.ID             `json:"test_id"`
	TestName             string                `json:"test_name"`
	Status               experiment.TestStatus `json:"status"`
	CompletionPercentage float64               `json:"completion_percentage"`
	BestVariantID        *common.ID            `json:"best_variant_id,omitempty"`
	WinnerVariantID      *common.ID            `json:"winner_variant_id,omitempty"`
	InsufficientData     bool                  `json:"insufficient_data"`
	Variants             []VariantResult       `json:"variants"`
	GeneratedAt          time.Time             `json:"generated_at"`
}

// Tracker records performance events and derives comparable statistics.
type Tracker struct {
	tests      experiment.TestRepository
	events     EventRepository
	aggregates AggregateRepository
	publisher  EventPublisher
	hook       CompletionHook

	sampleSizeFloor int
	clock           common.Clock
	logger          logging.Logger
	group           singleflight.Group
}

// NewTracker builds a performance tracker.  publisher may be nil when no
// audit stream is configured.
func NewTracker(
	tests experiment.TestRepository,
	events EventRepository,
	aggregates AggregateRepository,
	publisher EventPublisher,
	sampleSizeFloor int,
	clock common.Clock,
	logger logging.Logger,
) *Tracker {
	if clock == nil {
		clock = common.SystemClock{}
	}
	if sampleSizeFloor <= 0 {
		sampleSizeFloor = 20
	}
	return &Tracker{
		tests:           tests,
		events:          events,
		aggregates:      aggregates,
		publisher:       publisher,
		sampleSizeFloor: sampleSizeFloor,
		clock:           clock,
		logger:          logger.Named("tracking"),
	}
}

// SetCompletionHook registers the evaluator callback.  Called once during
// wiring, before any events flow.
func (t *Tracker) SetCompletionHook(hook CompletionHook) {
	t.hook = hook
}

// SampleSizeFloor returns the minimum per-variant sent count required before
// variants are ranked.
func (t *Tracker) SampleSizeFloor() int { return t.sampleSizeFloor }

// RecordEvent appends a performance event and folds it into the variant's
// aggregate.  Events against completed tests are still recorded for audit;
// only unknown tests or variants are rejected.
func (t *Tracker) RecordEvent(ctx context.Context, testID, variantID common.ID, contactID string, detail EventDetail) (*PerformanceEvent, error) {
	if detail == nil {
		return nil, errors.InvalidParam("event detail is required")
	}
	if err := detail.validate(); err != nil {
		return nil, err
	}
	test, err := t.tests.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	if !test.HasVariant(variantID) {
		return nil, errors.New(errors.ErrCodeVariantNotFound, "variant does not belong to test").
			WithDetail(variantID.String())
	}

	event := &PerformanceEvent{
		ID:        common.NewID(),
		TestID:    testID,
		VariantID: variantID,
		ContactID: contactID,
		Type:      detail.eventType(),
		Timestamp: t.clock.Now(),
	}
	switch d := detail.(type) {
	case RespondedDetail:
		event.Sentiment = d.Sentiment
		event.ResponseTimeHours = d.ResponseTimeHours
	case FailedDetail:
		event.FailureReason = d.Reason
	}

	if err := t.events.Append(ctx, event); err != nil {
		return nil, err
	}
	if err := t.aggregates.Apply(ctx, event); err != nil {
		return nil, err
	}

	if t.publisher != nil {
		if err := t.publisher.Publish(ctx, event); err != nil {
			t.logger.Warn("audit publish failed",
				logging.String("test_id", testID.String()),
				logging.String("event_type", string(event.Type)),
				logging.Err(err))
		}
	}
	if t.hook != nil {
		t.hook(ctx, testID)
	}
	return event, nil
}

// GetResults reports per-variant aggregates and rates plus the test-level
// summary.  Concurrent callers for the same test share one computation.
func (t *Tracker) GetResults(ctx context.Context, testID common.ID) (*TestResults, error) {
	v, err, _ := t.group.Do(testID.String(), func() (interface{}, error) {
		return t.computeResults(ctx, testID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*TestResults), nil
}

func (t *Tracker) computeResults(ctx context.Context, testID common.ID) (*TestResults, error) {
	test, err := t.tests.GetByID(ctx, testID)
	if err != nil {
		return nil, err
	}
	aggs, err := t.aggregates.GetByTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	results := &TestResults{
		TestID:          test.ID,
		TestName:        test.Name,
		Status:          test.Status,
		WinnerVariantID: test.WinnerVariantID,
		Variants:        make([]VariantResult, 0, len(test.Variants)),
		GeneratedAt:     t.clock.Now(),
	}
	var totalSent int64
	for _, v := range test.Variants {
		agg := aggs[v.ID]
		if agg == nil {
			agg = &VariantAggregate{TestID: test.ID, VariantID: v.ID}
		}
		totalSent += agg.SentCount
		results.Variants = append(results.Variants, VariantResult{
			VariantID:            v.ID,
			VariantName:          v.Name,
			SentCount:            agg.SentCount,
			RespondedCount:       agg.RespondedCount,
			PositiveCount:        agg.PositiveCount,
			ShippedCount:         agg.ShippedCount,
			FailedCount:          agg.FailedCount,
			ResponseRate:         agg.ResponseRate(),
			ConversionRate:       agg.ConversionRate(),
			PositiveRate:         agg.PositiveRate(),
			AvgResponseTimeHours: agg.AvgResponseTimeHours(),
		})
	}

	denom := float64(test.TargetCount) * float64(len(test.Variants))
	if denom > 0 {
		results.CompletionPercentage = float64(totalSent) / denom
		if results.CompletionPercentage > 1 {
			results.CompletionPercentage = 1
		}
	}

	best, insufficient := BestVariant(test, aggs, t.sampleSizeFloor)
	results.BestVariantID = best
	results.InsufficientData = insufficient
	return results, nil
}

// BestVariant ranks a test's variants by its ordered success metrics.  The
// first metric decides, ties fall through to the next metric, and a final
// tie goes to the variant listed earliest in the test.  When any variant is
// below the sample-size floor no ranking is produced and insufficient data
// is reported instead.
func BestVariant(test *experiment.Test, aggs map[common.ID]*VariantAggregate, floor int) (*common.ID, bool) {
	for _, v := range test.Variants {
		agg := aggs[v.ID]
		if agg == nil || agg.SentCount < int64(floor) {
			return nil, true
		}
	}

	bestIdx := 0
	for i := 1; i < len(test.Variants); i++ {
		if metricsBetter(test.SuccessMetrics, aggs[test.Variants[i].ID], aggs[test.Variants[bestIdx].ID]) {
			bestIdx = i
		}
	}
	id := test.Variants[bestIdx].ID
	return &id, false
}

// metricsBetter reports whether a strictly beats b under the ordered metric
// list.  Equal on every metric means not better, which preserves the
// earliest-variant tie-break in BestVariant.
func metricsBetter(metrics []string, a, b *VariantAggregate) bool {
	for _, m := range metrics {
		av, bv := metricValue(m, a), metricValue(m, b)
		if av == bv {
			continue
		}
		if experiment.MetricLowerIsBetter(m) {
			return av < bv
		}
		return av > bv
	}
	return false
}

func metricValue(metric string, agg *VariantAggregate) float64 {
	switch metric {
	case experiment.MetricResponseRate:
		return agg.ResponseRate()
	case experiment.MetricConversionRate:
		return agg.ConversionRate()
	case experiment.MetricPositiveRate:
		return agg.PositiveRate()
	case experiment.MetricAvgResponseTime:
		return agg.AvgResponseTimeHours()
	}
	return 0
}

// ExportResults writes the results report as CSV, one row per variant.
func (t *Tracker) ExportResults(ctx context.Context, testID common.ID, w io.Writer) error {
	results, err := t.GetResults(ctx, testID)
	if err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	header := []string{
		"variant_id", "variant_name", "sent", "responded", "positive",
		"shipped", "failed", "response_rate", "conversion_rate",
		"positive_rate", "avg_response_time_hours", "best",
	}
	if err := cw.Write(header); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "write csv header")
	}
	for _, v := range results.Variants {
		best := ""
		if results.BestVariantID != nil && *results.BestVariantID == v.VariantID {
			best = "yes"
		}
		row := []string{
			v.VariantID.String(),
			v.VariantName,
			fmt.Sprintf("%d", v.SentCount),
			fmt.Sprintf("%d", v.RespondedCount),
			fmt.Sprintf("%d", v.PositiveCount),
			fmt.Sprintf("%d", v.ShippedCount),
			fmt.Sprintf("%d", v.FailedCount),
			fmt.Sprintf("%.4f", v.ResponseRate),
			fmt.Sprintf("%.4f", v.ConversionRate),
			fmt.Sprintf("%.4f", v.PositiveRate),
			fmt.Sprintf("%.2f", v.AvgResponseTimeHours),
			best,
		}
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, errors.ErrCodeSerialization, "write csv row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "flush csv")
	}
	return nil
}
