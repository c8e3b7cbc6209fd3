package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/services"
)

type TelemetryHandler struct {
	log             *logger.Logger
	behaviorService services.BehaviorService
}

func NewTelemetryHandler(log *logger.Logger, bsvc services.BehaviorService) *TelemetryHandler {
	return &TelemetryHandler{
		log:             log.With("handler", "TelemetryHandler"),
		behaviorService: bsvc,
	}
}

// POST /api/telemetry/sessions/:sessionId/events
// { events: [{ type, key?, x?, y?, occurred_at }] }
// Raw events are windowed in memory; only feature summaries persist.
func (h *TelemetryHandler) IngestEvents(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}

	var input struct {
		Events []services.BehaviorEvent `json:"events"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}

	if err := h.behaviorService.Ingest(c.Request.Context(), sessionID, userID, input.Events); err != nil {
		RespondServiceError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// POST /api/telemetry/sessions/:sessionId/end
func (h *TelemetryHandler) EndSession(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}

	if err := h.behaviorService.EndSession(c.Request.Context(), sessionID); err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"ended": true})
}

// GET /api/telemetry/sessions/:sessionId/windows
func (h *TelemetryHandler) ListWindows(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	sessionID, ok := pathUUID(c, "sessionId")
	if !ok {
		return
	}

	windows, err := h.behaviorService.Windows(c.Request.Context(), sessionID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"windows": windows})
}
