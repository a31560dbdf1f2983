package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lms-insights/internal/dispatch"
	"github.com/yungbote/lms-insights/internal/http/response"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type CallbackReconciler interface {
	ReconcileCallback(ctx context.Context, cb dispatch.Callback) error
}

// CallbackHandler receives job outcomes from the remote dispatch worker.
type CallbackHandler struct {
	log        *logger.Logger
	reconciler CallbackReconciler
}

func NewCallbackHandler(log *logger.Logger, reconciler CallbackReconciler) *CallbackHandler {
	return &CallbackHandler{log: log.With("handler", "CallbackHandler"), reconciler: reconciler}
}

// POST /api/dispatch/callback
func (h *CallbackHandler) Callback(c *gin.Context) {
	var cb dispatch.Callback
	if err := c.ShouldBindJSON(&cb); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	err := h.reconciler.ReconcileCallback(c.Request.Context(), cb)
	switch {
	case err == nil:
		response.RespondOK(c, gin.H{"success": true})
	case errors.Is(err, dispatch.ErrUnknownJob):
		response.RespondError(c, http.StatusNotFound, "unknown_job", err)
	default:
		h.log.Error("Reconcile callback failed", "job_id", cb.JobID, "status", cb.Status, "error", err)
		response.RespondError(c, http.StatusUnprocessableEntity, "reconcile_failed", err)
	}
}

type JobProcessor interface {
	Handle(ctx context.Context, job dispatch.Job) dispatch.Results
}

// JobsHandler is the synchronous entry point of the dispatch worker.
type JobsHandler struct {
	worker JobProcessor
}

func NewJobsHandler(worker JobProcessor) *JobsHandler {
	return &JobsHandler{worker: worker}
}

// POST /jobs
func (h *JobsHandler) Submit(c *gin.Context) {
	var job dispatch.Job
	if err := c.ShouldBindJSON(&job); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	res := h.worker.Handle(c.Request.Context(), job)
	status := http.StatusOK
	if res.Status == dispatch.StatusFailed {
		status = http.StatusBadRequest
	}
	c.JSON(status, dispatch.JobResponse{Success: res.Status != dispatch.StatusFailed, Results: res})
}
