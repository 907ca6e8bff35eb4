package client

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// VariantSpec describes one variant when creating a test.
type VariantSpec struct {
	Name        string  `json:"name"`
	TemplateRef string  `json:"template_ref"`
	Weight      float64 `json:"weight,omitempty"`
}

// Variant is a message variation inside a test.
type Variant struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	TemplateRef string  `json:"template_ref"`
	Weight      float64 `json:"weight,omitempty"`
}

// Test is an outreach experiment as returned by the API.
type Test struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	Type              string     `json:"type"`
	Variants          []Variant  `json:"variants"`
	TargetCount       int        `json:"target_count"`
	SuccessMetrics    []string   `json:"success_metrics"`
	AutoDeclareWinner bool       `json:"auto_declare_winner"`
	MaxDurationDays   int        `json:"max_duration_days"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	WinnerVariantID   *string    `json:"winner_variant_id,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CompletionReason  string     `json:"completion_reason,omitempty"`
}

// CreateTestRequest is the payload for CreateTest.
type CreateTestRequest struct {
	Name              string        `json:"name"`
	Type              string        `json:"type"`
	Variants          []VariantSpec `json:"variants"`
	TargetCount       int           `json:"target_count"`
	SuccessMetrics    []string      `json:"success_metrics"`
	AutoDeclareWinner bool          `json:"auto_declare_winner"`
	MaxDurationDays   int           `json:"max_duration_days"`
	Activate          bool          `json:"activate"`
}

// Pagination carries paging parameters and, on responses, the total count.
type Pagination struct {
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total,omitempty"`
}

// TestList is one page of tests.
type TestList struct {
	Tests      []Test     `json:"tests"`
	Pagination Pagination `json:"pagination"`
}

// VariantResult holds computed metrics for one variant.
type VariantResult struct {
	VariantID            string  `json:"variant_id"`
	VariantName          string  `json:"variant_name"`
	SentCount            int64   `json:"sent_count"`
	RespondedCount       int64   `json:"responded_count"`
	PositiveCount        int64   `json:"positive_count"`
	ShippedCount         int64   `json:"shipped_count"`
	FailedCount          int64   `json:"failed_count"`
	ResponseRate         float64 `json:"response_rate"`
	ConversionRate       float64 `json:"conversion_rate"`
	PositiveRate         float64 `json:"positive_rate"`
	AvgResponseTimeHours float64 `json:"avg_response_time_hours"`
}

// TestResults is the full results report for a test.
type TestResults struct {
	TestID               string          `json:"test_id"`
	TestName             string          `json:"test_name"`
	Status               string          `json:"status"`
	CompletionPercentage float64         `json:"completion_percentage"`
	BestVariantID        *string         `json:"best_variant_id,omitempty"`
	WinnerVariantID      *string         `json:"winner_variant_id,omitempty"`
	InsufficientData     bool            `json:"insufficient_data"`
	Variants             []VariantResult `json:"variants"`
	GeneratedAt          time.Time       `json:"generated_at"`
}

// RecordEventRequest is the payload for RecordEvent.
type RecordEventRequest struct {
	VariantID         string  `json:"variant_id"`
	ContactID         string  `json:"contact_id"`
	Type              string  `json:"type"`
	Sentiment         string  `json:"sentiment,omitempty"`
	ResponseTimeHours float64 `json:"response_time_hours,omitempty"`
	FailureReason     string  `json:"failure_reason,omitempty"`
}

// PerformanceEvent is a recorded outreach event as returned by the API.
type PerformanceEvent struct {
	ID                string    `json:"id"`
	TestID            string    `json:"test_id"`
	VariantID         string    `json:"variant_id"`
	ContactID         string    `json:"contact_id"`
	Type              string    `json:"type"`
	Timestamp         time.Time `json:"timestamp"`
	Sentiment         string    `json:"sentiment,omitempty"`
	ResponseTimeHours float64   `json:"response_time_hours,omitempty"`
	FailureReason     string    `json:"failure_reason,omitempty"`
}

// CreateTest creates a new test, optionally activating it at once.
func (c *Client) CreateTest(ctx context.Context, req CreateTestRequest) (*Test, error) {
	var test Test
	if err := c.post(ctx, "/api/v1/tests", req, &test); err != nil {
		return nil, err
	}
	return &test, nil
}

// GetTest fetches a single test by id.
func (c *Client) GetTest(ctx context.Context, testID string) (*Test, error) {
	var test Test
	if err := c.get(ctx, "/api/v1/tests/"+url.PathEscape(testID), &test); err != nil {
		return nil, err
	}
	return &test, nil
}

// ListTests returns one page of tests, optionally filtered by status.
func (c *Client) ListTests(ctx context.Context, status string, page Pagination) (*TestList, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if page.Page > 0 {
		q.Set("page", fmt.Sprintf("%d", page.Page))
	}
	if page.PageSize > 0 {
		q.Set("page_size", fmt.Sprintf("%d", page.PageSize))
	}

	path := "/api/v1/tests"
	if encoded := q.Encode(); encoded != "" {
		path += "?" + encoded
	}

	var list TestList
	if err := c.get(ctx, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ActivateTest transitions a draft test to active.
func (c *Client) ActivateTest(ctx context.Context, testID string) (*Test, error) {
	var test Test
	if err := c.post(ctx, "/api/v1/tests/"+url.PathEscape(testID)+"/activate", nil, &test); err != nil {
		return nil, err
	}
	return &test, nil
}

// GetResults computes the current results report for a test.
func (c *Client) GetResults(ctx context.Context, testID string) (*TestResults, error) {
	var results TestResults
	if err := c.get(ctx, "/api/v1/tests/"+url.PathEscape(testID)+"/results", &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// ExportResults returns the results report rendered as CSV.
func (c *Client) ExportResults(ctx context.Context, testID string) ([]byte, error) {
	return c.doRaw(ctx, "/api/v1/tests/"+url.PathEscape(testID)+"/results/export")
}

// DeclareWinner manually completes a test with the given winning variant.
func (c *Client) DeclareWinner(ctx context.Context, testID, variantID string) (*Test, error) {
	body := map[string]string{"variant_id": variantID}
	var test Test
	if err := c.post(ctx, "/api/v1/tests/"+url.PathEscape(testID)+"/winner", body, &test); err != nil {
		return nil, err
	}
	return &test, nil
}

// RecordEvent records a performance event against a test variant.
func (c *Client) RecordEvent(ctx context.Context, testID string, req RecordEventRequest) (*PerformanceEvent, error) {
	var event PerformanceEvent
	if err := c.post(ctx, "/api/v1/tests/"+url.PathEscape(testID)+"/events", req, &event); err != nil {
		return nil, err
	}
	return &event, nil
}
