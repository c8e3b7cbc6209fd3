package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type EvidenceRepo interface {
	Create(ctx context.Context, tx *gorm.DB, items []*types.EvidenceItem) ([]*types.EvidenceItem, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.EvidenceItem, error)
	// GetActiveBySubject returns non-superseded items recorded before cutoff,
	// oldest first. Superseded items are excluded from all scoring reads.
	GetActiveBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, cutoff time.Time) ([]*types.EvidenceItem, error)
	Supersede(ctx context.Context, tx *gorm.DB, id, supersededByID uuid.UUID) error
	SetScoringStatus(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, status string) error
}

type evidenceRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewEvidenceRepo(db *gorm.DB, baseLog *logger.Logger) EvidenceRepo {
	repoLog := baseLog.With("repo", "EvidenceRepo")
	return &evidenceRepo{db: db, log: repoLog}
}

func (r *evidenceRepo) Create(ctx context.Context, tx *gorm.DB, items []*types.EvidenceItem) ([]*types.EvidenceItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(items) == 0 {
		return []*types.EvidenceItem{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *evidenceRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.EvidenceItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.EvidenceItem
	if len(ids) == 0 {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *evidenceRepo) GetActiveBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, cutoff time.Time) ([]*types.EvidenceItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.EvidenceItem
	if subjectID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("subject_id = ? AND superseded_by_id IS NULL AND recorded_at < ?", subjectID, cutoff).
		Order("recorded_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *evidenceRepo) Supersede(ctx context.Context, tx *gorm.DB, id, supersededByID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.EvidenceItem{}).
		Where("id = ? AND superseded_by_id IS NULL", id).
		Update("superseded_by_id", supersededByID).Error
}

func (r *evidenceRepo) SetScoringStatus(ctx context.Context, tx *gorm.DB, ids []uuid.UUID, status string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(ids) == 0 {
		return nil
	}

	return transaction.WithContext(ctx).
		Model(&types.EvidenceItem{}).
		Where("id IN ?", ids).
		Update("scoring_status", status).Error
}
