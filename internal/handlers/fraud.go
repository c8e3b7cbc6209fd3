package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/repos"
)

type FraudHandler struct {
	log           *logger.Logger
	fraudFlagRepo repos.FraudFlagRepo
}

func NewFraudHandler(log *logger.Logger, repo repos.FraudFlagRepo) *FraudHandler {
	return &FraudHandler{
		log:           log.With("handler", "FraudHandler"),
		fraudFlagRepo: repo,
	}
}

// GET /api/fraud-flags/subject/:subjectId
// Unacknowledged flags only; acknowledged history stays in the table.
func (h *FraudHandler) ListUnresolved(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	subjectID, ok := pathUUID(c, "subjectId")
	if !ok {
		return
	}

	flags, err := h.fraudFlagRepo.GetUnresolvedBySubjectID(c.Request.Context(), nil, subjectID)
	if err != nil {
		RespondServiceError(c, err)
		return
	}
	RespondOK(c, gin.H{"flags": flags})
}

// POST /api/fraud-flags/:id/acknowledge
func (h *FraudHandler) Acknowledge(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	flagID, ok := pathUUID(c, "id")
	if !ok {
		return
	}

	if err := h.fraudFlagRepo.Acknowledge(c.Request.Context(), nil, flagID); err != nil {
		RespondServiceError(c, err)
		return
	}
	h.log.Info("Fraud flag acknowledged", "flag_id", flagID, "reviewer_id", userID)
	RespondOK(c, gin.H{"acknowledged": true})
}
