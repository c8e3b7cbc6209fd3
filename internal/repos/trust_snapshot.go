package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type TrustSnapshotRepo interface {
	Create(ctx context.Context, tx *gorm.DB, snap *types.TrustScoreSnapshot) (*types.TrustScoreSnapshot, error)
	GetLatestBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) (*types.TrustScoreSnapshot, error)
	ListBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.TrustScoreSnapshot, error)
}

type trustSnapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTrustSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) TrustSnapshotRepo {
	repoLog := baseLog.With("repo", "TrustSnapshotRepo")
	return &trustSnapshotRepo{db: db, log: repoLog}
}

func (r *trustSnapshotRepo) Create(ctx context.Context, tx *gorm.DB, snap *types.TrustScoreSnapshot) (*types.TrustScoreSnapshot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).Create(snap).Error; err != nil {
		return nil, err
	}
	return snap, nil
}

func (r *trustSnapshotRepo) GetLatestBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) (*types.TrustScoreSnapshot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.TrustScoreSnapshot
	if err := transaction.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("computed_at DESC").
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *trustSnapshotRepo) ListBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.TrustScoreSnapshot, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.TrustScoreSnapshot
	if subjectID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("subject_id = ?", subjectID).
		Order("computed_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
