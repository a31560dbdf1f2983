package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/lms-insights/internal/aggregation"
	"github.com/yungbote/lms-insights/internal/http/response"
	"github.com/yungbote/lms-insights/internal/platform/apierr"
	"github.com/yungbote/lms-insights/internal/platform/ctxutil"
	"github.com/yungbote/lms-insights/internal/platform/logger"
)

type HeartbeatRecorder interface {
	RecordHeartbeat(ctx context.Context, userID, courseID uuid.UUID, ts time.Time) error
}

type TrackingHandler struct {
	log     *logger.Logger
	tracker HeartbeatRecorder
}

func NewTrackingHandler(log *logger.Logger, tracker HeartbeatRecorder) *TrackingHandler {
	return &TrackingHandler{log: log.With("handler", "TrackingHandler"), tracker: tracker}
}

// Timestamp is unix seconds from the client clock; zero means now.
type heartbeatRequest struct {
	CourseID  uuid.UUID `json:"course_id" binding:"required"`
	Timestamp int64     `json:"timestamp"`
}

// POST /api/tracking/heartbeat
func (h *TrackingHandler) Heartbeat(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("not authenticated"))
		return
	}
	var req heartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	if req.CourseID == uuid.Nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("course_id required"))
		return
	}
	var ts time.Time
	if req.Timestamp > 0 {
		ts = time.Unix(req.Timestamp, 0).UTC()
	}

	if err := h.tracker.RecordHeartbeat(c.Request.Context(), rd.UserID, req.CourseID, ts); err != nil {
		ae := heartbeatError(err)
		if ae == nil {
			h.log.Error("Record heartbeat failed", "user_id", rd.UserID, "course_id", req.CourseID, "error", err)
			response.RespondAPIError(c, err)
			return
		}
		response.RespondAPIError(c, ae)
		return
	}
	response.RespondOK(c, gin.H{"success": true})
}

// heartbeatError returns nil for errors that are not the caller's fault.
func heartbeatError(err error) *apierr.Error {
	switch {
	case errors.Is(err, aggregation.ErrTrackingDisabled):
		return apierr.New(http.StatusForbidden, "tracking_disabled", err)
	case errors.Is(err, aggregation.ErrNoCourseAccess):
		return apierr.New(http.StatusForbidden, "no_course_access", err)
	default:
		return nil
	}
}
