package repos

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type BehaviorWindowRepo interface {
	Create(ctx context.Context, tx *gorm.DB, w *types.BehaviorWindow) (*types.BehaviorWindow, error)
	GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.BehaviorWindow, error)
}

type behaviorWindowRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBehaviorWindowRepo(db *gorm.DB, baseLog *logger.Logger) BehaviorWindowRepo {
	repoLog := baseLog.With("repo", "BehaviorWindowRepo")
	return &behaviorWindowRepo{db: db, log: repoLog}
}

func (r *behaviorWindowRepo) Create(ctx context.Context, tx *gorm.DB, w *types.BehaviorWindow) (*types.BehaviorWindow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).Create(w).Error; err != nil {
		return nil, err
	}
	return w, nil
}

func (r *behaviorWindowRepo) GetBySessionID(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID) ([]*types.BehaviorWindow, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.BehaviorWindow
	if sessionID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("window_start ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
