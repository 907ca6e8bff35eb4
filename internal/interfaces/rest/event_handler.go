package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// eventRecorded is the optional metrics surface for recorded events.
type eventRecorded interface {
	EventRecorded(eventType string)
}

// EventHandler serves the performance-event recording endpoint.
type EventHandler struct {
	tracker *tracking.Tracker
	metrics eventRecorded
}

// NewEventHandler constructs an EventHandler.  metrics may be nil.
func NewEventHandler(tracker *tracking.Tracker, metrics eventRecorded) *EventHandler {
	return &EventHandler{tracker: tracker, metrics: metrics}
}

type recordEventRequest struct {
	VariantID string `json:"variant_id" binding:"required"`
	ContactID string `json:"contact_id" binding:"required"`
	Type      string `json:"type" binding:"required"`

	// Responded fields.
	Sentiment         string  `json:"sentiment,omitempty"`
	ResponseTimeHours float64 `json:"response_time_hours,omitempty"`

	// Failed fields.
	FailureReason string `json:"failure_reason,omitempty"`
}

// detail maps the flat request body onto the typed event kind.
func (r recordEventRequest) detail() (tracking.EventDetail, error) {
	switch tracking.EventType(r.Type) {
	case tracking.EventSent:
		return tracking.SentDetail{}, nil
	case tracking.EventResponded:
		return tracking.RespondedDetail{
			Sentiment:         tracking.Sentiment(r.Sentiment),
			ResponseTimeHours: r.ResponseTimeHours,
		}, nil
	case tracking.EventShipped:
		return tracking.ShippedDetail{}, nil
	case tracking.EventFailed:
		return tracking.FailedDetail{Reason: r.FailureReason}, nil
	}
	return nil, errors.New(errors.ErrCodeEventTypeInvalid, "invalid performance event type").
		WithDetail(r.Type)
}

// Record handles POST /api/v1/tests/:id/events.
func (h *EventHandler) Record(c *gin.Context) {
	var req recordEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	detail, err := req.detail()
	if err != nil {
		respondError(c, err)
		return
	}

	event, err := h.tracker.RecordEvent(c.Request.Context(),
		common.ID(c.Param("id")), common.ID(req.VariantID), req.ContactID, detail)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.EventRecorded(string(event.Type))
	}
	respond(c, http.StatusCreated, event)
}
