package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/clients/graph"
	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type CreateBatchInput struct {
	CropRef             string     `json:"crop_ref"`
	QuantityKg          float64    `json:"quantity_kg"`
	HarvestDate         *time.Time `json:"harvest_date,omitempty"`
	QualityGradeInitial string     `json:"quality_grade_initial,omitempty"`
	Destination         string     `json:"destination,omitempty"`
}

// QualityCheckpointInput carries the inspection evidence for one quality
// checkpoint: inline items are recorded first, refs point at items recorded
// earlier. At least one of the two must be present.
type QualityCheckpointInput struct {
	Evidence     []RecordEvidenceInput `json:"evidence,omitempty"`
	EvidenceRefs []uuid.UUID           `json:"evidence_refs,omitempty"`
}

type BatchService interface {
	Create(ctx context.Context, ownerID uuid.UUID, input CreateBatchInput) (*types.Batch, error)
	Get(ctx context.Context, ownerID, batchID uuid.UUID) (*types.Batch, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*types.Batch, error)
	ListCheckpoints(ctx context.Context, ownerID, batchID uuid.UUID) ([]*types.Checkpoint, error)
	// SubmitQualityCheckpoint evaluates the inspection bundle and appends a
	// quality_check checkpoint without changing the batch status.
	SubmitQualityCheckpoint(ctx context.Context, ownerID, batchID uuid.UUID, input QualityCheckpointInput) (*types.Checkpoint, QualityResult, error)
}

type batchService struct {
	db             *gorm.DB
	log            *logger.Logger
	cfg            config.Config
	batchRepo      repos.BatchRepo
	checkpointRepo repos.CheckpointRepo
	evidenceRepo   repos.EvidenceRepo
	fraudFlagRepo  repos.FraudFlagRepo
	evidence       EvidenceService
	quality        QualityService
	anchors        AnchorDispatcher
	provenance     *graph.Client
}

func NewBatchService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Config,
	batchRepo repos.BatchRepo,
	checkpointRepo repos.CheckpointRepo,
	evidenceRepo repos.EvidenceRepo,
	fraudFlagRepo repos.FraudFlagRepo,
	evidence EvidenceService,
	quality QualityService,
	anchors AnchorDispatcher,
	provenance *graph.Client,
) BatchService {
	serviceLog := baseLog.With("service", "BatchService")
	return &batchService{
		db:             db,
		log:            serviceLog,
		cfg:            cfg,
		batchRepo:      batchRepo,
		checkpointRepo: checkpointRepo,
		evidenceRepo:   evidenceRepo,
		fraudFlagRepo:  fraudFlagRepo,
		evidence:       evidence,
		quality:        quality,
		anchors:        anchors,
		provenance:     provenance,
	}
}

func (bs *batchService) Create(ctx context.Context, ownerID uuid.UUID, input CreateBatchInput) (*types.Batch, error) {
	if ownerID == uuid.Nil {
		return nil, apierr.BadRequest(errors.New("missing owner"))
	}
	if input.CropRef == "" {
		return nil, apierr.BadRequest(errors.New("missing crop_ref"))
	}
	if input.QuantityKg <= 0 {
		return nil, apierr.BadRequest(errors.New("quantity_kg must be positive"))
	}

	now := time.Now().UTC()
	harvestDate := now
	if input.HarvestDate != nil {
		harvestDate = input.HarvestDate.UTC()
		if harvestDate.After(now) {
			return nil, apierr.BadRequest(errors.New("harvest_date cannot be in the future"))
		}
	}

	batch := &types.Batch{
		ID:                  uuid.New(),
		OwnerID:             ownerID,
		CropRef:             input.CropRef,
		QuantityKg:          input.QuantityKg,
		HarvestDate:         harvestDate,
		Status:              types.BatchStatusHarvested,
		QualityGradeInitial: input.QualityGradeInitial,
		CurrentQualityGrade: input.QualityGradeInitial,
		Destination:         input.Destination,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	hash := checkpointContentHash(batch.ID, types.BatchStatusHarvested, now, nil)
	cp := &types.Checkpoint{
		ID:              uuid.New(),
		BatchID:         batch.ID,
		SequenceNo:      1,
		CheckpointType:  types.CheckpointTypeHarvest,
		EvidenceRefs:    datatypes.JSON([]byte(`[]`)),
		ResultingStatus: types.BatchStatusHarvested,
		ContentHash:     hash,
		AnchorStatus:    types.AnchorStatusPending,
		RecordedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := bs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := bs.batchRepo.Create(ctx, tx, []*types.Batch{batch}); err != nil {
			return fmt.Errorf("create batch: %w", err)
		}
		if _, err := bs.checkpointRepo.Create(ctx, tx, cp); err != nil {
			return fmt.Errorf("create harvest checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		bs.log.Error("Create batch failed", "error", err, "owner_id", ownerID)
		return nil, err
	}

	bs.anchors.Dispatch(AnchorJob{
		CheckpointID: cp.ID,
		BatchID:      batch.ID,
		ContentHash:  hash,
	})
	bs.provenance.SyncCheckpoint(ctx, batch, cp)

	bs.log.Info("Batch created", "batch_id", batch.ID, "owner_id", ownerID, "crop_ref", input.CropRef)
	return batch, nil
}

func (bs *batchService) Get(ctx context.Context, ownerID, batchID uuid.UUID) (*types.Batch, error) {
	return bs.loadOwned(ctx, ownerID, batchID)
}

func (bs *batchService) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*types.Batch, error) {
	return bs.batchRepo.GetByOwnerID(ctx, nil, ownerID)
}

func (bs *batchService) ListCheckpoints(ctx context.Context, ownerID, batchID uuid.UUID) ([]*types.Checkpoint, error) {
	if _, err := bs.loadOwned(ctx, ownerID, batchID); err != nil {
		return nil, err
	}
	return bs.checkpointRepo.GetByBatchID(ctx, nil, batchID)
}

func (bs *batchService) SubmitQualityCheckpoint(ctx context.Context, ownerID, batchID uuid.UUID, input QualityCheckpointInput) (*types.Checkpoint, QualityResult, error) {
	batch, err := bs.loadOwned(ctx, ownerID, batchID)
	if err != nil {
		return nil, QualityResult{}, err
	}
	if types.TerminalStatus(batch.Status) {
		return nil, QualityResult{}, apierr.BadRequest(fmt.Errorf("batch is %s; no further quality checkpoints", batch.Status))
	}
	if len(input.Evidence) == 0 && len(input.EvidenceRefs) == 0 {
		return nil, QualityResult{}, apierr.InsufficientEvidence("a quality checkpoint requires at least one evidence item")
	}

	refs := append([]uuid.UUID{}, input.EvidenceRefs...)
	for _, in := range input.Evidence {
		in.SubjectID = batchID
		in.SubjectType = types.SubjectTypeBatch
		in.Dimension = types.DimensionQuality
		item, err := bs.evidence.Record(ctx, nil, in)
		if err != nil {
			return nil, QualityResult{}, err
		}
		refs = append(refs, item.ID)
	}

	bundle, err := bs.evidenceRepo.GetByIDs(ctx, nil, refs)
	if err != nil {
		return nil, QualityResult{}, fmt.Errorf("load evidence bundle: %w", err)
	}
	if len(bundle) != len(refs) {
		return nil, QualityResult{}, apierr.BadRequest(errors.New("one or more evidence_refs do not exist"))
	}

	history, err := bs.qualityHistory(ctx, batchID)
	if err != nil {
		return nil, QualityResult{}, err
	}

	now := time.Now().UTC()
	result := bs.quality.Evaluate(batch, bundle, history, now)

	hash := checkpointContentHash(batchID, batch.Status, now, refs)
	refsJSON, _ := json.Marshal(refs)
	cp := &types.Checkpoint{
		ID:              uuid.New(),
		BatchID:         batchID,
		CheckpointType:  types.CheckpointTypeQualityCheck,
		EvidenceRefs:    datatypes.JSON(refsJSON),
		ResultingStatus: batch.Status,
		QualityScore:    &result.QualityScore,
		FreshnessScore:  &result.FreshnessScore,
		Grade:           &result.Grade,
		ContentHash:     hash,
		AnchorStatus:    types.AnchorStatusPending,
		RecordedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 0; attempt < 3; attempt++ {
		err = bs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			maxSeq, err := bs.checkpointRepo.MaxSequenceNo(ctx, tx, batchID)
			if err != nil {
				return err
			}
			cp.SequenceNo = maxSeq + 1
			if _, err := bs.checkpointRepo.Create(ctx, tx, cp); err != nil {
				return err
			}
			return bs.batchRepo.UpdateDerived(ctx, tx, batchID, map[string]any{
				"current_quality_grade": result.Grade,
				"updated_at":            now,
			})
		})
		if !errors.Is(err, repos.ErrSequenceConflict) {
			break
		}
	}
	if err != nil {
		bs.log.Error("Submit quality checkpoint failed", "error", err, "batch_id", batchID)
		return nil, QualityResult{}, fmt.Errorf("append quality checkpoint: %w", err)
	}

	if result.ContaminationDetected {
		bs.recordContaminationFlag(ctx, batch, refs)
	}

	bs.anchors.Dispatch(AnchorJob{
		CheckpointID: cp.ID,
		BatchID:      batchID,
		ContentHash:  hash,
	})
	bs.provenance.SyncCheckpoint(ctx, batch, cp)

	bs.log.Info("Quality checkpoint recorded",
		"batch_id", batchID,
		"sequence_no", cp.SequenceNo,
		"grade", result.Grade,
		"quality_score", result.QualityScore,
		"contamination", result.ContaminationDetected,
	)
	return cp, result, nil
}

func (bs *batchService) loadOwned(ctx context.Context, ownerID, batchID uuid.UUID) (*types.Batch, error) {
	batch, err := bs.batchRepo.GetByID(ctx, nil, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if batch == nil {
		return nil, apierr.NotFound("batch")
	}
	if batch.OwnerID != ownerID {
		return nil, apierr.Forbidden("batch belongs to another owner")
	}
	return batch, nil
}

// qualityHistory replays the stored quality checkpoints in sequence order so
// the evaluator sees the same trend it saw when they were recorded.
func (bs *batchService) qualityHistory(ctx context.Context, batchID uuid.UUID) ([]QualityResult, error) {
	cps, err := bs.checkpointRepo.GetQualityHistoryByBatchID(ctx, nil, batchID)
	if err != nil {
		return nil, fmt.Errorf("load quality history: %w", err)
	}
	history := make([]QualityResult, 0, len(cps))
	for _, cp := range cps {
		if cp.QualityScore == nil {
			continue
		}
		r := QualityResult{QualityScore: *cp.QualityScore}
		if cp.FreshnessScore != nil {
			r.FreshnessScore = *cp.FreshnessScore
		}
		if cp.Grade != nil {
			r.Grade = *cp.Grade
		}
		history = append(history, r)
	}
	return history, nil
}

// Contaminated produce raises a critical flag on the batch: delivery stays
// blocked until a reviewer acknowledges it, independent of the score clip.
func (bs *batchService) recordContaminationFlag(ctx context.Context, batch *types.Batch, refs []uuid.UUID) {
	refsJSON, _ := json.Marshal(refs)
	flag := &types.FraudFlag{
		ID:                  uuid.New(),
		SubjectID:           batch.ID,
		SubjectType:         types.SubjectTypeBatch,
		Severity:            types.SeverityCritical,
		Kind:                types.FlagKindContamination,
		Confidence:          0.95,
		RelatedEvidenceRefs: datatypes.JSON(refsJSON),
	}
	if _, err := bs.fraudFlagRepo.Create(ctx, nil, []*types.FraudFlag{flag}); err != nil {
		bs.log.Error("Record contamination flag failed", "error", err, "batch_id", batch.ID)
		return
	}
	bs.log.Warn("Contamination flagged", "batch_id", batch.ID)
}
