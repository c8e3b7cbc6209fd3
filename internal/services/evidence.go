package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type RecordEvidenceInput struct {
	SubjectID   uuid.UUID      `json:"subject_id"`
	SubjectType string         `json:"subject_type"`
	Dimension   string         `json:"dimension"`
	Payload     map[string]any `json:"payload"`
	Confidence  *float64       `json:"confidence,omitempty"`
	SourceID    string         `json:"source_id"`
	RecordedAt  *time.Time     `json:"recorded_at,omitempty"`
}

type EvidenceService interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordEvidenceInput) (*types.EvidenceItem, error)
	// Supersede soft-invalidates the old item and records its correction;
	// nothing is ever deleted.
	Supersede(ctx context.Context, tx *gorm.DB, oldID uuid.UUID, input RecordEvidenceInput) (*types.EvidenceItem, error)
	ListBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.EvidenceItem, error)
}

type evidenceService struct {
	db           *gorm.DB
	log          *logger.Logger
	evidenceRepo repos.EvidenceRepo
}

func NewEvidenceService(db *gorm.DB, baseLog *logger.Logger, evidenceRepo repos.EvidenceRepo) EvidenceService {
	serviceLog := baseLog.With("service", "EvidenceService")
	return &evidenceService{
		db:           db,
		log:          serviceLog,
		evidenceRepo: evidenceRepo,
	}
}

func (es *evidenceService) Record(ctx context.Context, tx *gorm.DB, input RecordEvidenceInput) (*types.EvidenceItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = es.db
	}

	item, err := buildEvidenceItem(input)
	if err != nil {
		return nil, err
	}

	if _, err := es.evidenceRepo.Create(ctx, transaction, []*types.EvidenceItem{item}); err != nil {
		es.log.Error("Record evidence failed", "error", err, "subject_id", input.SubjectID)
		return nil, fmt.Errorf("create evidence: %w", err)
	}
	return item, nil
}

func (es *evidenceService) Supersede(ctx context.Context, tx *gorm.DB, oldID uuid.UUID, input RecordEvidenceInput) (*types.EvidenceItem, error) {
	transaction := tx
	if transaction == nil {
		transaction = es.db
	}

	old, err := es.evidenceRepo.GetByIDs(ctx, transaction, []uuid.UUID{oldID})
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}
	if len(old) == 0 {
		return nil, apierr.NotFound("evidence item")
	}
	if old[0].SupersededByID != nil {
		return nil, apierr.BadRequest(fmt.Errorf("evidence %s already superseded", oldID))
	}

	replacement, err := buildEvidenceItem(input)
	if err != nil {
		return nil, err
	}

	err = transaction.WithContext(ctx).Transaction(func(innerTx *gorm.DB) error {
		if _, err := es.evidenceRepo.Create(ctx, innerTx, []*types.EvidenceItem{replacement}); err != nil {
			return fmt.Errorf("create replacement: %w", err)
		}
		if err := es.evidenceRepo.Supersede(ctx, innerTx, oldID, replacement.ID); err != nil {
			return fmt.Errorf("supersede: %w", err)
		}
		return nil
	})
	if err != nil {
		es.log.Error("Supersede evidence failed", "error", err, "evidence_id", oldID)
		return nil, err
	}
	return replacement, nil
}

func (es *evidenceService) ListBySubject(ctx context.Context, tx *gorm.DB, subjectID uuid.UUID) ([]*types.EvidenceItem, error) {
	return es.evidenceRepo.GetActiveBySubject(ctx, tx, subjectID, time.Now().UTC())
}

func buildEvidenceItem(input RecordEvidenceInput) (*types.EvidenceItem, error) {
	if input.SubjectID == uuid.Nil {
		return nil, apierr.BadRequest(fmt.Errorf("missing subject_id"))
	}
	if input.SubjectType != types.SubjectTypeFarmer && input.SubjectType != types.SubjectTypeBatch {
		return nil, apierr.BadRequest(fmt.Errorf("unknown subject_type %q", input.SubjectType))
	}
	if !types.ValidDimension(input.Dimension) {
		return nil, apierr.BadRequest(fmt.Errorf("unknown dimension %q", input.Dimension))
	}
	if input.Confidence != nil && (*input.Confidence < 0 || *input.Confidence > 100) {
		return nil, apierr.BadRequest(fmt.Errorf("confidence must be in [0,100]"))
	}

	payload := datatypes.JSON([]byte(`{}`))
	if input.Payload != nil {
		b, err := json.Marshal(input.Payload)
		if err != nil {
			return nil, apierr.BadRequest(fmt.Errorf("payload not serializable: %w", err))
		}
		payload = datatypes.JSON(b)
	}

	recordedAt := time.Now().UTC()
	if input.RecordedAt != nil {
		recordedAt = input.RecordedAt.UTC()
	}

	now := time.Now().UTC()
	return &types.EvidenceItem{
		ID:            uuid.New(),
		SubjectID:     input.SubjectID,
		SubjectType:   input.SubjectType,
		Dimension:     input.Dimension,
		Payload:       payload,
		Confidence:    input.Confidence,
		SourceID:      input.SourceID,
		RecordedAt:    recordedAt,
		ScoringStatus: types.EvidenceStatusReady,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
