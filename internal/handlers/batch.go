package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/requestdata"
	"github.com/agritrust/agritrust-backend/internal/services"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type BatchHandler struct {
	log              *logger.Logger
	batchService     services.BatchService
	lifecycleService services.LifecycleService
}

func NewBatchHandler(log *logger.Logger, bsvc services.BatchService, lsvc services.LifecycleService) *BatchHandler {
	return &BatchHandler{
		log:              log.With("handler", "BatchHandler"),
		batchService:     bsvc,
		lifecycleService: lsvc,
	}
}

// POST /api/batches
// { crop_ref, quantity_kg, harvest_date?, quality_grade_initial?, destination? }
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var input services.CreateBatchInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}

	batch, err := h.batchService.Create(c.Request.Context(), userID, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, batch)
}

// GET /api/batches
func (h *BatchHandler) ListBatches(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	batches, err := h.batchService.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"batches": batches})
}

// GET /api/batches/:id
func (h *BatchHandler) GetBatch(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	batchID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	batch, err := h.batchService.Get(c.Request.Context(), userID, batchID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, batch)
}

// GET /api/batches/:id/checkpoints
func (h *BatchHandler) ListCheckpoints(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	batchID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	checkpoints, err := h.batchService.ListCheckpoints(c.Request.Context(), userID, batchID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"checkpoints": checkpoints})
}

// POST /api/batches/:id/quality-checkpoints
// { evidence: [...], evidence_refs: [...] }
func (h *BatchHandler) SubmitQualityCheckpoint(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	batchID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var input services.QualityCheckpointInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}

	cp, result, err := h.batchService.SubmitQualityCheckpoint(c.Request.Context(), userID, batchID, input)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondCreated(c, gin.H{"checkpoint": cp, "result": result})
}

// POST /api/batches/:id/transitions
// { target_status, evidence_refs? }
func (h *BatchHandler) AdvanceBatch(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	batchID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	var input struct {
		TargetStatus string      `json:"target_status"`
		EvidenceRefs []uuid.UUID `json:"evidence_refs,omitempty"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, err)
		return
	}
	if !types.ValidBatchStatus(input.TargetStatus) {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, errors.New("unknown target_status"))
		return
	}

	// Ownership is checked before the transition so a foreign batch id reads
	// as forbidden, not as a lifecycle error.
	if _, err := h.batchService.Get(c.Request.Context(), userID, batchID); err != nil {
		RespondServiceError(c, err)
		return
	}

	batch, err := h.lifecycleService.Advance(c.Request.Context(), batchID, input.TargetStatus, input.EvidenceRefs)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, batch)
}

func currentUser(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing identity"))
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, apierr.CodeBadRequest, errors.New("invalid "+name))
		return uuid.Nil, false
	}
	return id, true
}
