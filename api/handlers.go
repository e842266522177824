package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/songzhibin97/workflow-approval/directory"
	"github.com/songzhibin97/workflow-approval/metrics"
	"github.com/songzhibin97/workflow-approval/types"
	"github.com/songzhibin97/workflow-approval/workflow"
)

// KindInvalidRequest reports a body or query that could not be decoded.
const KindInvalidRequest = "InvalidRequest"

// Handlers contains all HTTP request handlers
type Handlers struct {
	store   Store
	dir     directory.Directory
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(store Store, dir directory.Directory) *Handlers {
	return &Handlers{store: store, dir: dir, logger: zap.NewNop()}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WorkflowResponse is a workflow definition plus its derived views.
type WorkflowResponse struct {
	types.WorkflowDefinition
	PendingApprovers []string `json:"pendingApprovers"`
	Actions          []string `json:"actions"`
}

// CreateWorkflowRequest is the body of POST /workflows.
type CreateWorkflowRequest struct {
	Name              string        `json:"name" binding:"required"`
	Description       string        `json:"description"`
	Stages            []types.Stage `json:"stages"`
	RequiredApprovers []string      `json:"requiredApprovers"`
}

// ApproveRequest is the body of POST /workflows/:id/approvals.
type ApproveRequest struct {
	StaffID string `json:"staffId" binding:"required"`
}

// ListWorkflowsRequest holds the query of GET /workflows.
type ListWorkflowsRequest struct {
	Status []string `form:"status"`
}

func newWorkflowResponse(wf types.WorkflowDefinition) WorkflowResponse {
	events := workflow.PermittedEvents(wf.Status)
	actions := make([]string, 0, len(events))
	for _, ev := range events {
		actions = append(actions, ev.String())
	}
	return WorkflowResponse{
		WorkflowDefinition: wf,
		PendingApprovers:   wf.PendingApprovers(),
		Actions:            actions,
	}
}

// HealthCheck handles GET /healthz
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListWorkflows handles GET /api/v1/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	var req ListWorkflowsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	statuses := make([]types.Status, 0, len(req.Status))
	for _, name := range req.Status {
		status, err := types.ParseStatus(name)
		if err != nil {
			h.badRequest(c, err)
			return
		}
		statuses = append(statuses, status)
	}

	list, err := h.store.List(c.Request.Context(), statuses...)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]WorkflowResponse, 0, len(list))
	for _, wf := range list {
		out = append(out, newWorkflowResponse(wf))
	}
	c.JSON(http.StatusOK, out)
}

// CreateWorkflow handles POST /api/v1/workflows
func (h *Handlers) CreateWorkflow(c *gin.Context) {
	var req CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	wf, err := h.store.Create(c.Request.Context(), types.WorkflowDefinition{
		Name:              req.Name,
		Description:       req.Description,
		Stages:            req.Stages,
		RequiredApprovers: req.RequiredApprovers,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Location", "/api/v1/workflows/"+wf.ID)
	c.JSON(http.StatusCreated, newWorkflowResponse(wf))
}

// GetWorkflow handles GET /api/v1/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	h.respond(c, http.StatusOK)(h.store.Get(c.Request.Context(), c.Param("id")))
}

// UpdateWorkflow handles PATCH /api/v1/workflows/:id
func (h *Handlers) UpdateWorkflow(c *gin.Context) {
	var patch types.WorkflowPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		h.badRequest(c, err)
		return
	}
	h.respond(c, http.StatusOK)(h.store.Update(c.Request.Context(), c.Param("id"), patch))
}

// DeleteWorkflow handles DELETE /api/v1/workflows/:id
func (h *Handlers) DeleteWorkflow(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RequestApproval handles POST /api/v1/workflows/:id/request-approval
func (h *Handlers) RequestApproval(c *gin.Context) {
	h.respond(c, http.StatusOK)(h.store.RequestApproval(c.Request.Context(), c.Param("id")))
}

// ApproveWorkflow handles POST /api/v1/workflows/:id/approvals
func (h *Handlers) ApproveWorkflow(c *gin.Context) {
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	h.respond(c, http.StatusOK)(h.store.Approve(c.Request.Context(), c.Param("id"), req.StaffID))
}

// SuspendWorkflow handles POST /api/v1/workflows/:id/suspend
func (h *Handlers) SuspendWorkflow(c *gin.Context) {
	h.respond(c, http.StatusOK)(h.store.Suspend(c.Request.Context(), c.Param("id")))
}

// ReactivateWorkflow handles POST /api/v1/workflows/:id/reactivate
func (h *Handlers) ReactivateWorkflow(c *gin.Context) {
	h.respond(c, http.StatusOK)(h.store.Reactivate(c.Request.Context(), c.Param("id")))
}

// ListStaff handles GET /api/v1/staff
func (h *Handlers) ListStaff(c *gin.Context) {
	staff, err := h.dir.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, staff)
}

// GetStaff handles GET /api/v1/staff/:id
func (h *Handlers) GetStaff(c *gin.Context) {
	member, err := h.dir.Lookup(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, directory.ErrStaffNotFound) {
			h.writeError(c, http.StatusNotFound, workflow.KindNotFound, err)
			return
		}
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *Handlers) respond(c *gin.Context, code int) func(types.WorkflowDefinition, error) {
	return func(wf types.WorkflowDefinition, err error) {
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(code, newWorkflowResponse(wf))
	}
}

func (h *Handlers) badRequest(c *gin.Context, err error) {
	h.writeError(c, http.StatusBadRequest, KindInvalidRequest, err)
}

// fail renders a store error with the status code of its kind.
func (h *Handlers) fail(c *gin.Context, err error) {
	kind := workflow.KindOf(err)
	h.writeError(c, StatusCode(kind), kind, err)
}

func (h *Handlers) writeError(c *gin.Context, code int, kind string, err error) {
	if h.metrics != nil {
		h.metrics.Rejected(kind)
	}
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.String("kind", kind),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(code, ErrorResponse{Error: kind, Message: err.Error()})
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(kind string) int {
	switch kind {
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindInvalidDefinition, KindInvalidRequest:
		return http.StatusBadRequest
	case workflow.KindNotEligibleApprover:
		return http.StatusForbidden
	case workflow.KindIllegalTransition, workflow.KindInvalidState,
		workflow.KindEditNotAllowed, workflow.KindDeleteNotAllowed,
		workflow.KindDuplicateApproval:
		return http.StatusConflict
	case workflow.KindPersistenceFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
