package repos

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type BatchRepo interface {
	Create(ctx context.Context, tx *gorm.DB, batches []*types.Batch) ([]*types.Batch, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Batch, error)
	GetByOwnerID(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Batch, error)
	// UpdateDerived writes the status/head fields; everything else on a batch
	// is immutable after creation.
	UpdateDerived(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error
	SetLedgerAnchorRef(ctx context.Context, tx *gorm.DB, id uuid.UUID, txRef string) error
}

type batchRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewBatchRepo(db *gorm.DB, baseLog *logger.Logger) BatchRepo {
	repoLog := baseLog.With("repo", "BatchRepo")
	return &batchRepo{db: db, log: repoLog}
}

func (r *batchRepo) Create(ctx context.Context, tx *gorm.DB, batches []*types.Batch) ([]*types.Batch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(batches) == 0 {
		return []*types.Batch{}, nil
	}

	if err := transaction.WithContext(ctx).Create(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *batchRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.Batch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.Batch
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *batchRepo) GetByOwnerID(ctx context.Context, tx *gorm.DB, ownerID uuid.UUID) ([]*types.Batch, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Batch
	if ownerID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *batchRepo) UpdateDerived(ctx context.Context, tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if len(fields) == 0 {
		return nil
	}

	return transaction.WithContext(ctx).
		Model(&types.Batch{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *batchRepo) SetLedgerAnchorRef(ctx context.Context, tx *gorm.DB, id uuid.UUID, txRef string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Batch{}).
		Where("id = ?", id).
		Update("ledger_anchor_ref", txRef).Error
}
