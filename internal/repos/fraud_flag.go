package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type FraudFlagRepo interface {
	Create(ctx context.Context, tx *gorm.DB, flags []*types.FraudFlag) ([]*types.FraudFlag, error)
	GetUnresolvedBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.FraudFlag, error)
	HasUnresolvedSeverity(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, severities []string) (bool, error)
	Acknowledge(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type fraudFlagRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFraudFlagRepo(db *gorm.DB, baseLog *logger.Logger) FraudFlagRepo {
	repoLog := baseLog.With("repo", "FraudFlagRepo")
	return &fraudFlagRepo{db: db, log: repoLog}
}

func (r *fraudFlagRepo) Create(ctx context.Context, tx *gorm.DB, flags []*types.FraudFlag) ([]*types.FraudFlag, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(flags) == 0 {
		return []*types.FraudFlag{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&flags).Error; err != nil {
		return nil, err
	}
	return flags, nil
}

func (r *fraudFlagRepo) GetUnresolvedBySubjectID(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.FraudFlag, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.FraudFlag
	if subjectID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("subject_id = ? AND acknowledged = ?", subjectID, false).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *fraudFlagRepo) HasUnresolvedSeverity(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, severities []string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if subjectID == uuid.Nil || len(severities) == 0 {
		return false, nil
	}

	var count int64
	if err := transaction.WithContext(ctx).
		Model(&types.FraudFlag{}).
		Where("subject_id = ? AND acknowledged = ? AND severity IN ?", subjectID, false, severities).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *fraudFlagRepo) Acknowledge(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.FraudFlag{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"acknowledged":    true,
			"acknowledged_at": &now,
		}).Error
}
