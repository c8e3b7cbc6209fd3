package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/services"
)

type EvidenceHandler struct {
	log             *logger.Logger
	evidenceService services.EvidenceService
}

func NewEvidenceHandler(log *logger.Logger, esvc services.EvidenceService) *EvidenceHandler {
	return &EvidenceHandler{
		log:             log.With("handler", "EvidenceHandler"),
		evidenceService: esvc,
	}
}

// POST /api/evidence
// { subject_id, subject_type, dimension, payload, confidence?, source_id, recorded_at? }
func (h *EvidenceHandler) RecordEvidence(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	var input services.RecordEvidenceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}

	item, err := h.evidenceService.Record(c.Request.Context(), nil, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, item)
}

// POST /api/evidence/:id/supersede
// Body is the replacement item; the old one is soft-invalidated, not deleted.
func (h *EvidenceHandler) SupersedeEvidence(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	oldID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var input services.RecordEvidenceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}

	replacement, err := h.evidenceService.Supersede(c.Request.Context(), nil, oldID, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, replacement)
}

// GET /api/evidence/subject/:subjectId
func (h *EvidenceHandler) ListBySubject(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	subjectID, ok := pathUUID(c, "subjectId")
	if !ok {
		return
	}

	items, err := h.evidenceService.ListBySubject(c.Request.Context(), nil, subjectID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"evidence": items})
}
