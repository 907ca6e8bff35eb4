// Package experiment defines multivariant message tests, their variants, and
// the deterministic assignment of contacts to variants.
package experiment

import (
	"time"

	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// TestStatus is the lifecycle state of a Test.  Transitions only move
// forward: draft → active → completed.
type TestStatus string

const (
	TestStatusDraft     TestStatus = "draft"
	TestStatusActive    TestStatus = "active"
	TestStatusCompleted TestStatus = "completed"
)

// CanTransitionTo reports whether the status machine permits moving from s
// to next.  Backward transitions are never allowed.
func (s TestStatus) CanTransitionTo(next TestStatus) bool {
	switch s {
	case TestStatusDraft:
		return next == TestStatusActive
	case TestStatusActive:
		return next == TestStatusCompleted
	default:
		return false
	}
}

// Success metric names used for best-variant ranking.  The order in a test's
// SuccessMetrics list decides ranking priority: the first metric decides,
// ties are broken by the next metric, and a final tie by earliest variant id.
const (
	MetricResponseRate    = "response_rate"
	MetricConversionRate  = "conversion_rate"
	MetricPositiveRate    = "positive_rate"
	MetricAvgResponseTime = "avg_response_time_hours"
)

// KnownMetric reports whether name is a recognised success metric.
func KnownMetric(name string) bool {
	switch name {
	case MetricResponseRate, MetricConversionRate, MetricPositiveRate, MetricAvgResponseTime:
		return true
	}
	return false
}

// MetricLowerIsBetter reports whether a smaller value of the metric ranks
// higher (true only for response-time style metrics).
func MetricLowerIsBetter(name string) bool {
	return name == MetricAvgResponseTime
}

// Completion reasons recorded when a test enters the completed state.
const (
	ReasonManual           = "manual"
	ReasonTargetReached    = "target_reached"
	ReasonDurationElapsed  = "duration_elapsed"
	ReasonInsufficientData = "insufficient_data"
)

// Variant is one alternative version of an outbound message being compared.
// Variants are immutable once their test is active; changing them requires a
// new test.
type Variant struct {
	ID          common.ID `json:"id"`
	Name        string    `json:"name"`
	TemplateRef string    `json:"template_ref"`
	// Weight biases assignment toward this variant.  Zero on every variant
	// of a test means an equal split.
	Weight float64 `json:"weight,omitempty"`
}

// Test is a multivariant message experiment.
type Test struct {
	ID                common.ID  `json:"id"`
	Name              string     `json:"name"`
	Type              string     `json:"type"` // category tag, e.g. "opener"
	Variants          []Variant  `json:"variants"`
	TargetCount       int        `json:"target_count"` // desired completed sends per variant
	SuccessMetrics    []string   `json:"success_metrics"`
	AutoDeclareWinner bool       `json:"auto_declare_winner"`
	MaxDurationDays   int        `json:"max_duration_days"`
	Status            TestStatus `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	WinnerVariantID   *common.ID `json:"winner_variant_id,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletionReason  string     `json:"completion_reason,omitempty"`
}

// Validate checks the structural invariants of a test configuration:
// at least two variants with unique ids, positive target count, non-empty
// recognised success metrics, and non-negative weights with a positive sum
// when any weight is set.
func (t *Test) Validate() error {
	if t.Name == "" {
		return errors.InvalidParam("test name is required")
	}
	if len(t.Variants) < 2 {
		return errors.InvalidParam("test requires at least two variants").
			WithDetail(t.Name)
	}
	seen := make(map[common.ID]struct{}, len(t.Variants))
	weighted := false
	var weightSum float64
	for _, v := range t.Variants {
		if v.ID.IsZero() {
			return errors.InvalidParam("variant id is required")
		}
		if _, dup := seen[v.ID]; dup {
			return errors.InvalidParam("variant ids must be unique").
				WithDetail(v.ID.String())
		}
		seen[v.ID] = struct{}{}
		if v.Weight < 0 {
			return errors.InvalidParam("variant weight must not be negative").
				WithDetail(v.ID.String())
		}
		if v.Weight > 0 {
			weighted = true
		}
		weightSum += v.Weight
	}
	if weighted && weightSum <= 0 {
		return errors.InvalidParam("sum of variant weights must be positive")
	}
	if t.TargetCount <= 0 {
		return errors.InvalidParam("target_count must be positive")
	}
	if len(t.SuccessMetrics) == 0 {
		return errors.InvalidParam("success_metrics must not be empty")
	}
	for _, m := range t.SuccessMetrics {
		if !KnownMetric(m) {
			return errors.InvalidParam("unknown success metric").WithDetail(m)
		}
	}
	if t.MaxDurationDays < 0 {
		return errors.InvalidParam("max_duration_days must not be negative")
	}
	return nil
}

// Activate moves a draft test to active.
func (t *Test) Activate() error {
	if !t.Status.CanTransitionTo(TestStatusActive) {
		return errors.InvalidState("test cannot be activated").
			WithDetail(string(t.Status))
	}
	t.Status = TestStatusActive
	return nil
}

// Complete moves an active test to the terminal completed state, recording
// the winner (nil for insufficient data), the decision time, and the reason.
// Completion is terminal; calling Complete on a completed test returns an
// ErrCodeTestCompleted error so callers can decide whether to treat the
// repeat as an idempotent no-op.
func (t *Test) Complete(winner *common.ID, reason string, at time.Time) error {
	if t.Status == TestStatusCompleted {
		return errors.New(errors.ErrCodeTestCompleted, "test already completed").
			WithDetail(t.ID.String())
	}
	if !t.Status.CanTransitionTo(TestStatusCompleted) {
		return errors.InvalidState("test cannot be completed").
			WithDetail(string(t.Status))
	}
	if winner != nil && !t.HasVariant(*winner) {
		return errors.InvalidParam("winner variant does not belong to test").
			WithDetail(winner.String())
	}
	t.Status = TestStatusCompleted
	t.WinnerVariantID = winner
	t.CompletedAt = &at
	t.CompletionReason = reason
	return nil
}

// IsActive reports whether the test admits new assignments and events.
func (t *Test) IsActive() bool { return t.Status == TestStatusActive }

// HasVariant reports whether id belongs to the test.
func (t *Test) HasVariant(id common.ID) bool {
	return t.VariantByID(id) != nil
}

// VariantByID returns the variant with the given id, or nil.
func (t *Test) VariantByID(id common.ID) *Variant {
	for i := range t.Variants {
		if t.Variants[i].ID == id {
			return &t.Variants[i]
		}
	}
	return nil
}

// EffectiveWeights returns the per-variant weights used for assignment.
// When no variant carries an explicit weight the split is equal.
func (t *Test) EffectiveWeights() []float64 {
	weights := make([]float64, len(t.Variants))
	anySet := false
	for i, v := range t.Variants {
		weights[i] = v.Weight
		if v.Weight > 0 {
			anySet = true
		}
	}
	if !anySet {
		for i := range weights {
			weights[i] = 1
		}
	}
	return weights
}

// Expired reports whether the test's maximum duration has elapsed at now.
// A zero MaxDurationDays means the test never expires by time.
func (t *Test) Expired(now time.Time) bool {
	if t.MaxDurationDays <= 0 {
		return false
	}
	return now.Sub(t.CreatedAt) >= time.Duration(t.MaxDurationDays)*24*time.Hour
}

// Assignment is the sticky (test, contact) → variant mapping.  Exactly one
// assignment exists per pair for the lifetime of the test; it is created
// lazily on first request and never reassigned.
type Assignment struct {
	TestID    common.ID `json:"test_id"`
	ContactID string    `json:"contact_id"`
	VariantID common.ID `json:"variant_id"`
	CreatedAt time.Time `json:"created_at"`
}
