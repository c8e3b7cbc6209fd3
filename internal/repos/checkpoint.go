package repos

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

// ErrSequenceConflict is returned when two appends race for the same
// (batch_id, sequence_no) slot; callers retry with a fresh sequence number.
var ErrSequenceConflict = errors.New("checkpoint sequence conflict")

type CheckpointRepo interface {
	Create(ctx context.Context, tx *gorm.DB, cp *types.Checkpoint) (*types.Checkpoint, error)
	GetByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Checkpoint, error)
	GetLatestByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (*types.Checkpoint, error)
	// GetLatestQualityByBatchID returns the newest quality_check checkpoint.
	GetLatestQualityByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (*types.Checkpoint, error)
	GetQualityHistoryByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Checkpoint, error)
	MaxSequenceNo(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (int, error)
	SetAnchorResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, txRef *string, warning string) error
}

type checkpointRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewCheckpointRepo(db *gorm.DB, baseLog *logger.Logger) CheckpointRepo {
	repoLog := baseLog.With("repo", "CheckpointRepo")
	return &checkpointRepo{db: db, log: repoLog}
}

func (r *checkpointRepo) Create(ctx context.Context, tx *gorm.DB, cp *types.Checkpoint) (*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	if err := transaction.WithContext(ctx).Create(cp).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSequenceConflict
		}
		return nil, err
	}
	return cp, nil
}

func (r *checkpointRepo) GetByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Checkpoint
	if batchID == uuid.Nil {
		return results, nil
	}

	if err := transaction.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("sequence_no ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *checkpointRepo) GetLatestByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.Checkpoint
	if err := transaction.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("sequence_no DESC").
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *checkpointRepo) GetLatestQualityByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var result types.Checkpoint
	if err := transaction.WithContext(ctx).
		Where("batch_id = ? AND checkpoint_type = ?", batchID, types.CheckpointTypeQualityCheck).
		Order("sequence_no DESC").
		First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *checkpointRepo) GetQualityHistoryByBatchID(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) ([]*types.Checkpoint, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var results []*types.Checkpoint
	if err := transaction.WithContext(ctx).
		Where("batch_id = ? AND checkpoint_type = ?", batchID, types.CheckpointTypeQualityCheck).
		Order("sequence_no ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *checkpointRepo) MaxSequenceNo(ctx context.Context, tx *gorm.DB, batchID uuid.UUID) (int, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	var max *int
	if err := transaction.WithContext(ctx).
		Model(&types.Checkpoint{}).
		Where("batch_id = ?", batchID).
		Select("MAX(sequence_no)").
		Scan(&max).Error; err != nil {
		return 0, err
	}
	if max == nil {
		return 0, nil
	}
	return *max, nil
}

func (r *checkpointRepo) SetAnchorResult(ctx context.Context, tx *gorm.DB, id uuid.UUID, status string, txRef *string, warning string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}

	return transaction.WithContext(ctx).
		Model(&types.Checkpoint{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"anchor_status":  status,
			"anchor_tx_ref":  txRef,
			"anchor_warning": warning,
		}).Error
}

// isUniqueViolation covers postgres (pgconn 23505) and the sqlite test
// driver, whose unique errors only expose a message.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return strings.Contains(strings.ToUpper(err.Error()), "UNIQUE")
}
