// Package dispatch implements the rate-limited, priority-ordered delivery
// queue.  Each sending account gets one worker goroutine that owns the
// account's queue and rate window exclusively; everything else reads
// snapshots.
package dispatch

import (
	"time"

	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// Priority orders queue items within an account.  High drains before normal,
// normal before low; within a class the order is FIFO.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// priorityCount is the number of priority classes.
const priorityCount = 3

// rank maps a priority to its drain order, 0 first.
func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// ParsePriority validates a priority string, defaulting empty to normal.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	}
	return "", errors.InvalidParam("unknown priority").WithDetail(s)
}

// ItemStatus is the delivery state of a queue item.
type ItemStatus string

const (
	StatusQueued    ItemStatus = "queued"
	StatusSending   ItemStatus = "sending"
	StatusSent      ItemStatus = "sent"
	StatusRetryWait ItemStatus = "retry_wait"
	StatusFailed    ItemStatus = "failed"
)

// Terminal reports whether the status ends the item's lifecycle.
func (s ItemStatus) Terminal() bool {
	return s == StatusSent || s == StatusFailed
}

// ItemMetadata carries the correlation the orchestrator needs to record a
// performance event when the item resolves.  Empty for messages outside any
// test.
type ItemMetadata struct {
	TestID    common.ID `json:"test_id,omitempty"`
	VariantID common.ID `json:"variant_id,omitempty"`
	ContactID string    `json:"contact_id,omitempty"`
}

// QueueItem is one outbound message waiting for delivery.  After enqueue it
// is mutated only by the owning account worker.
type QueueItem struct {
	ID            common.ID         `json:"id"`
	AccountKey    common.AccountKey `json:"account_key"`
	Recipient     string            `json:"recipient"`
	Payload       string            `json:"payload"`
	Priority      Priority          `json:"priority"`
	Status        ItemStatus        `json:"status"`
	Attempts      int               `json:"attempts"`
	CreatedAt     time.Time         `json:"created_at"`
	ScheduledAt   time.Time         `json:"scheduled_at"`
	SentAt        *time.Time        `json:"sent_at,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      ItemMetadata      `json:"metadata"`
}

// Eligible reports whether the item may be sent at now.
func (i *QueueItem) Eligible(now time.Time) bool {
	return !i.ScheduledAt.After(now)
}

// Validate checks the fields the enqueue contract requires.
func (i *QueueItem) Validate() error {
	if i.AccountKey == "" {
		return errors.InvalidParam("account_key is required")
	}
	if i.Recipient == "" {
		return errors.InvalidParam("recipient is required")
	}
	if i.Payload == "" {
		return errors.InvalidParam("payload is required")
	}
	switch i.Priority {
	case PriorityHigh, PriorityNormal, PriorityLow:
	default:
		return errors.InvalidParam("unknown priority").WithDetail(string(i.Priority))
	}
	return nil
}
