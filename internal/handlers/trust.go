package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/services"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type TrustHandler struct {
	log          *logger.Logger
	trustService services.TrustService
}

func NewTrustHandler(log *logger.Logger, tsvc services.TrustService) *TrustHandler {
	return &TrustHandler{
		log:          log.With("handler", "TrustHandler"),
		trustService: tsvc,
	}
}

// POST /api/trust/:subjectId/assess
// { subject_type: "farmer" | "batch" }
func (h *TrustHandler) Assess(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	subjectID, ok := pathUUID(c, "subjectId")
	if !ok {
		return
	}

	var input struct {
		SubjectType string `json:"subject_type"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}
	if input.SubjectType != types.SubjectTypeFarmer && input.SubjectType != types.SubjectTypeBatch {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, errors.New("unknown subject_type"))
		return
	}

	snapshot, err := h.trustService.Assess(c.Request.Context(), subjectID, input.SubjectType)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, snapshot)
}

// GET /api/trust/:subjectId
func (h *TrustHandler) Latest(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	subjectID, ok := pathUUID(c, "subjectId")
	if !ok {
		return
	}

	snapshot, err := h.trustService.Latest(c.Request.Context(), subjectID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	if snapshot == nil {
		RespondError(c, http.StatusNotFound, apierr.CodeNotFound, errors.New("no trust snapshot for subject"))
		return
	}
	RespondOK(c, snapshot)
}

// GET /api/trust/:subjectId/history
func (h *TrustHandler) History(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	subjectID, ok := pathUUID(c, "subjectId")
	if !ok {
		return
	}

	snapshots, err := h.trustService.History(c.Request.Context(), subjectID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"snapshots": snapshots})
}
