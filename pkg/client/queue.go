package client

import (
	"context"
	"net/url"
	"time"
)

// ItemMetadata correlates a queue item back to a test assignment.
type ItemMetadata struct {
	TestID    string `json:"test_id,omitempty"`
	VariantID string `json:"variant_id,omitempty"`
	ContactID string `json:"contact_id,omitempty"`
}

// QueueItem is a queued outreach message as returned by the API.
type QueueItem struct {
	ID            string       `json:"id"`
	AccountKey    string       `json:"account_key"`
	Recipient     string       `json:"recipient"`
	Payload       string       `json:"payload"`
	Priority      string       `json:"priority"`
	Status        string       `json:"status"`
	Attempts      int          `json:"attempts"`
	CreatedAt     time.Time    `json:"created_at"`
	ScheduledAt   time.Time    `json:"scheduled_at"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	FailureReason string       `json:"failure_reason,omitempty"`
	Metadata      ItemMetadata `json:"metadata"`
}

// EnqueueRequest is the payload for Enqueue.
type EnqueueRequest struct {
	AccountKey string       `json:"account_key"`
	Recipient  string       `json:"recipient"`
	Payload    string       `json:"payload"`
	Priority   string       `json:"priority,omitempty"`
	Metadata   ItemMetadata `json:"metadata,omitempty"`
}

// EnqueueBatchResult lists the ids assigned to a batch enqueue.
type EnqueueBatchResult struct {
	IDs []string `json:"ids"`
}

// AccountStatus is a snapshot of one account's queue and rate window.
type AccountStatus struct {
	AccountKey    string         `json:"account_key"`
	Depth         map[string]int `json:"depth"`
	InFlight      int            `json:"in_flight"`
	SentToday     int            `json:"sent_today"`
	DailyLimit    int            `json:"daily_limit"`
	Remaining     int            `json:"remaining"`
	WindowResetAt time.Time      `json:"window_reset_at"`
}

// QueueStats is the queue-wide snapshot across all accounts.
type QueueStats struct {
	Accounts   map[string]AccountStatus `json:"accounts"`
	TotalDepth int                      `json:"total_depth"`
	InFlight   int                      `json:"in_flight"`
}

// DispatchRequest asks the orchestrator to assign, render, and enqueue
// one outreach message for a contact.
type DispatchRequest struct {
	TestID     string `json:"test_id"`
	ContactID  string `json:"contact_id"`
	AccountKey string `json:"account_key"`
	Recipient  string `json:"recipient"`
	Priority   string `json:"priority,omitempty"`
}

// DispatchResult reports the outcome of a dispatch request.  Skipped is
// true when the test had no remaining capacity for the contact's variant.
type DispatchResult struct {
	Skipped bool       `json:"skipped"`
	Item    *QueueItem `json:"item,omitempty"`
}

// Enqueue adds a single message to the dispatch queue.
func (c *Client) Enqueue(ctx context.Context, req EnqueueRequest) (*QueueItem, error) {
	var item QueueItem
	if err := c.post(ctx, "/api/v1/queue/items", req, &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// EnqueueBatch adds multiple messages atomically.  Validation failures on
// any item reject the whole batch.
func (c *Client) EnqueueBatch(ctx context.Context, reqs []EnqueueRequest) (*EnqueueBatchResult, error) {
	body := map[string][]EnqueueRequest{"items": reqs}
	var result EnqueueBatchResult
	if err := c.post(ctx, "/api/v1/queue/items/batch", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetQueueItem fetches a queue item by id.
func (c *Client) GetQueueItem(ctx context.Context, itemID string) (*QueueItem, error) {
	var item QueueItem
	if err := c.get(ctx, "/api/v1/queue/items/"+url.PathEscape(itemID), &item); err != nil {
		return nil, err
	}
	return &item, nil
}

// GetAccountStatus returns the queue snapshot for one sending account.
func (c *Client) GetAccountStatus(ctx context.Context, accountKey string) (*AccountStatus, error) {
	var status AccountStatus
	if err := c.get(ctx, "/api/v1/queue/accounts/"+url.PathEscape(accountKey), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// GetQueueStats returns the queue-wide snapshot.
func (c *Client) GetQueueStats(ctx context.Context) (*QueueStats, error) {
	var stats QueueStats
	if err := c.get(ctx, "/api/v1/queue/stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Dispatch runs the full assign-render-enqueue flow for one contact.
func (c *Client) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	var result DispatchResult
	if err := c.post(ctx, "/api/v1/dispatch", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
