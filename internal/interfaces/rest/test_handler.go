package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reachforge/outreach-core/internal/application/evaluation"
	"github.com/reachforge/outreach-core/internal/domain/experiment"
	"github.com/reachforge/outreach-core/internal/domain/tracking"
	"github.com/reachforge/outreach-core/pkg/errors"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// TestHandler serves the test lifecycle and results endpoints.
type TestHandler struct {
	service   experiment.Service
	tracker   *tracking.Tracker
	evaluator *evaluation.Evaluator
}

// NewTestHandler constructs a TestHandler.
func NewTestHandler(service experiment.Service, tracker *tracking.Tracker, evaluator *evaluation.Evaluator) *TestHandler {
	return &TestHandler{service: service, tracker: tracker, evaluator: evaluator}
}

// Create handles POST /api/v1/tests.
func (h *TestHandler) Create(c *gin.Context) {
	var cmd experiment.CreateTestCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		respondBadRequest(c, err)
		return
	}
	test, err := h.service.CreateTest(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusCreated, test)
}

// Get handles GET /api/v1/tests/:id.
func (h *TestHandler) Get(c *gin.Context) {
	test, err := h.service.GetTest(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, test)
}

type listTestsResponse struct {
	Tests      []*experiment.Test `json:"tests"`
	Pagination common.Pagination  `json:"pagination"`
}

// List handles GET /api/v1/tests.
func (h *TestHandler) List(c *gin.Context) {
	status := experiment.TestStatus(c.Query("status"))
	switch status {
	case "", experiment.TestStatusDraft, experiment.TestStatusActive, experiment.TestStatusCompleted:
	default:
		respondError(c, errors.InvalidParam("unknown status").WithDetail(string(status)))
		return
	}

	page := parsePagination(c)
	tests, total, err := h.service.ListTests(c.Request.Context(), status, page)
	if err != nil {
		respondError(c, err)
		return
	}
	page.Total = total
	respond(c, http.StatusOK, listTestsResponse{Tests: tests, Pagination: page})
}

// Activate handles POST /api/v1/tests/:id/activate.
func (h *TestHandler) Activate(c *gin.Context) {
	test, err := h.service.ActivateTest(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, test)
}

// Results handles GET /api/v1/tests/:id/results.
func (h *TestHandler) Results(c *gin.Context) {
	results, err := h.tracker.GetResults(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, results)
}

// ExportResults handles GET /api/v1/tests/:id/results/export, streaming the
// per-variant report as CSV.
func (h *TestHandler) ExportResults(c *gin.Context) {
	id := c.Param("id")
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", `attachment; filename="test-`+id+`-results.csv"`)
	if err := h.tracker.ExportResults(c.Request.Context(), common.ID(id), c.Writer); err != nil {
		respondError(c, err)
	}
}

type declareWinnerRequest struct {
	VariantID string `json:"variant_id" binding:"required"`
}

// DeclareWinner handles POST /api/v1/tests/:id/winner.
func (h *TestHandler) DeclareWinner(c *gin.Context) {
	var req declareWinnerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	test, err := h.evaluator.DeclareWinner(c.Request.Context(),
		common.ID(c.Param("id")), common.ID(req.VariantID))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, test)
}
