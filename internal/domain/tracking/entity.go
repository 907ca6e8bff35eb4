// Package tracking maintains the append-only performance event log and the
// per-variant aggregates derived from it.
package tracking

import (
	"time"

	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// EventType classifies a performance event.
type EventType string

const (
	EventSent      EventType = "sent"
	EventResponded EventType = "responded"
	EventShipped   EventType = "shipped"
	EventFailed    EventType = "failed"
)

// Sentiment labels the tone of a response.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// EventDetail is the closed set of event kinds.  Each kind carries exactly
// the fields it needs; there is no open-ended metadata bag.
type EventDetail interface {
	eventType() EventType
	validate() error
}

// SentDetail marks a completed outbound send.
type SentDetail struct{}

func (SentDetail) eventType() EventType { return EventSent }
func (SentDetail) validate() error      { return nil }

// RespondedDetail marks an inbound reply to a sent message.
type RespondedDetail struct {
	Sentiment         Sentiment
	ResponseTimeHours float64
}

func (RespondedDetail) eventType() EventType { return EventResponded }

func (d RespondedDetail) validate() error {
	switch d.Sentiment {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
	default:
		return errors.InvalidParam("unknown sentiment").WithDetail(string(d.Sentiment))
	}
	if d.ResponseTimeHours < 0 {
		return errors.InvalidParam("response_time_hours must not be negative")
	}
	return nil
}

// ShippedDetail marks a downstream conversion (an order shipped).
type ShippedDetail struct{}

func (ShippedDetail) eventType() EventType { return EventShipped }
func (ShippedDetail) validate() error      { return nil }

// FailedDetail marks a delivery that terminally failed.
type FailedDetail struct {
	Reason string
}

func (FailedDetail) eventType() EventType { return EventFailed }
func (FailedDetail) validate() error      { return nil }

// PerformanceEvent is one immutable observation about a variant.  Events are
// append-only; aggregates are recomputable from the log.
type PerformanceEvent struct {
	ID        common.ID `json:"id"`
	TestID    common.ID `json:"test_id"`
	VariantID common.ID `json:"variant_id"`
	ContactID string    `json:"contact_id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Kind-specific fields, flattened for persistence.  Only the fields of
	// the event's kind are meaningful.
	Sentiment         Sentiment `json:"sentiment,omitempty"`
	ResponseTimeHours float64   `json:"response_time_hours,omitempty"`
	FailureReason     string    `json:"failure_reason,omitempty"`
}

// VariantAggregate holds the monotonic counters for one variant.  Counters
// only ever increase.
type VariantAggregate struct {
	TestID               common.ID `json:"test_id"`
	VariantID            common.ID `json:"variant_id"`
	SentCount            int64     `json:"sent_count"`
	RespondedCount       int64     `json:"responded_count"`
	PositiveCount        int64     `json:"positive_count"`
	ShippedCount         int64     `json:"shipped_count"`
	FailedCount          int64     `json:"failed_count"`
	SumResponseTimeHours float64   `json:"sum_response_time_hours"`
}

// Apply folds one event into the aggregate.  Increment-only.
func (a *VariantAggregate) Apply(e *PerformanceEvent) {
	switch e.Type {
	case EventSent:
		a.SentCount++
	case EventResponded:
		a.RespondedCount++
		a.SumResponseTimeHours += e.ResponseTimeHours
		if e.Sentiment == SentimentPositive {
			a.PositiveCount++
		}
	case EventShipped:
		a.ShippedCount++
	case EventFailed:
		a.FailedCount++
	}
}

// ResponseRate is responded/sent, 0 when nothing was sent.
func (a *VariantAggregate) ResponseRate() float64 {
	return ratio(a.RespondedCount, a.SentCount)
}

// ConversionRate is shipped/sent, 0 when nothing was sent.
func (a *VariantAggregate) ConversionRate() float64 {
	return ratio(a.ShippedCount, a.SentCount)
}

// PositiveRate is the share of responses with positive sentiment, 0 when
// nothing was responded.
func (a *VariantAggregate) PositiveRate() float64 {
	return ratio(a.PositiveCount, a.RespondedCount)
}

// AvgResponseTimeHours is the mean response latency, 0 when nothing was
// responded.
func (a *VariantAggregate) AvgResponseTimeHours() float64 {
	if a.RespondedCount == 0 {
		return 0
	}
	return a.SumResponseTimeHours / float64(a.RespondedCount)
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
