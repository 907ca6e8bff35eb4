package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/reachforge/outreach-core/internal/application/orchestrator"
	"github.com/reachforge/outreach-core/internal/domain/dispatch"
	"github.com/reachforge/outreach-core/pkg/types/common"
)

// QueueHandler serves the delivery-queue endpoints.
type QueueHandler struct {
	queue    *dispatch.Queue
	orch     *orchestrator.Orchestrator
	renderer orchestrator.Renderer
}

// NewQueueHandler constructs a QueueHandler.  The renderer turns the variant
// chosen for a dispatch request into the outbound payload.
func NewQueueHandler(queue *dispatch.Queue, orch *orchestrator.Orchestrator, renderer orchestrator.Renderer) *QueueHandler {
	return &QueueHandler{queue: queue, orch: orch, renderer: renderer}
}

type enqueueRequest struct {
	AccountKey string                `json:"account_key" binding:"required"`
	Recipient  string                `json:"recipient" binding:"required"`
	Payload    string                `json:"payload" binding:"required"`
	Priority   string                `json:"priority,omitempty"`
	Metadata   dispatch.ItemMetadata `json:"metadata,omitempty"`
}

func (r enqueueRequest) command() (dispatch.EnqueueCommand, error) {
	priority, err := dispatch.ParsePriority(r.Priority)
	if err != nil {
		return dispatch.EnqueueCommand{}, err
	}
	return dispatch.EnqueueCommand{
		AccountKey: common.AccountKey(r.AccountKey),
		Recipient:  r.Recipient,
		Payload:    r.Payload,
		Priority:   priority,
		Metadata:   r.Metadata,
	}, nil
}

// Enqueue handles POST /api/v1/queue/items.
func (h *QueueHandler) Enqueue(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	cmd, err := req.command()
	if err != nil {
		respondError(c, err)
		return
	}
	item, err := h.queue.Enqueue(c.Request.Context(), cmd)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, item)
}

type enqueueBatchRequest struct {
	Items []enqueueRequest `json:"items" binding:"required"`
}

type enqueueBatchResponse struct {
	IDs []common.ID `json:"ids"`
}

// EnqueueBatch handles POST /api/v1/queue/items/batch.  Validation is
// all-or-nothing; a mid-batch persistence failure returns the ids accepted
// before it alongside the error.
func (h *QueueHandler) EnqueueBatch(c *gin.Context) {
	var req enqueueBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	cmds := make([]dispatch.EnqueueCommand, 0, len(req.Items))
	for _, item := range req.Items {
		cmd, err := item.command()
		if err != nil {
			respondError(c, err)
			return
		}
		cmds = append(cmds, cmd)
	}
	ids, err := h.queue.EnqueueBatch(c.Request.Context(), cmds)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusAccepted, enqueueBatchResponse{IDs: ids})
}

// GetItem handles GET /api/v1/queue/items/:id.
func (h *QueueHandler) GetItem(c *gin.Context) {
	item, err := h.queue.GetItem(c.Request.Context(), common.ID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, item)
}

// AccountStatus handles GET /api/v1/queue/accounts/:key.
func (h *QueueHandler) AccountStatus(c *gin.Context) {
	status, err := h.queue.QueueStatus(common.AccountKey(c.Param("key")))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, status)
}

// Stats handles GET /api/v1/queue/stats.
func (h *QueueHandler) Stats(c *gin.Context) {
	respond(c, http.StatusOK, h.queue.Stats())
}

type dispatchRequest struct {
	TestID     string `json:"test_id" binding:"required"`
	ContactID  string `json:"contact_id" binding:"required"`
	AccountKey string `json:"account_key" binding:"required"`
	Recipient  string `json:"recipient" binding:"required"`
	Priority   string `json:"priority,omitempty"`
}

type dispatchResponse struct {
	Skipped bool                `json:"skipped"`
	Item    *dispatch.QueueItem `json:"item,omitempty"`
}

// Dispatch handles POST /api/v1/dispatch: assign a variant, render its
// template, and enqueue the message.  A test with no remaining capacity
// skips the contact rather than erroring.
func (h *QueueHandler) Dispatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err)
		return
	}
	priority, err := dispatch.ParsePriority(req.Priority)
	if err != nil {
		respondError(c, err)
		return
	}

	item, err := h.orch.DispatchOutreach(c.Request.Context(), orchestrator.DispatchCommand{
		TestID:     common.ID(req.TestID),
		ContactID:  req.ContactID,
		AccountKey: common.AccountKey(req.AccountKey),
		Recipient:  req.Recipient,
		Priority:   priority,
	}, h.renderer)
	if err != nil {
		respondError(c, err)
		return
	}
	if item == nil {
		respond(c, http.StatusOK, dispatchResponse{Skipped: true})
		return
	}
	respond(c, http.StatusAccepted, dispatchResponse{Item: item})
}
