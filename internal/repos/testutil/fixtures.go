package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/types"
)

func SeedBatch(tb testing.TB, ctx context.Context, tx *gorm.DB, ownerID uuid.UUID, status string, harvested time.Time) *types.Batch {
	tb.Helper()
	b := &types.Batch{
		ID:                  uuid.New(),
		OwnerID:             ownerID,
		CropRef:             "maize",
		QuantityKg:          500,
		HarvestDate:         harvested,
		Status:              status,
		QualityGradeInitial: "A",
		CurrentQualityGrade: "A",
		CreatedAt:           harvested,
		UpdatedAt:           harvested,
	}
	if err := tx.WithContext(ctx).Create(b).Error; err != nil {
		tb.Fatalf("seed batch: %v", err)
	}
	return b
}

func SeedEvidence(tb testing.TB, ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, dimension string, confidence float64, recordedAt time.Time) *types.EvidenceItem {
	tb.Helper()
	item := &types.EvidenceItem{
		ID:            uuid.New(),
		SubjectID:     subjectID,
		SubjectType:   types.SubjectTypeFarmer,
		Dimension:     dimension,
		Payload:       datatypes.JSON([]byte(`{}`)),
		Confidence:    &confidence,
		SourceID:      "test",
		RecordedAt:    recordedAt,
		ScoringStatus: types.EvidenceStatusReady,
		CreatedAt:     recordedAt,
		UpdatedAt:     recordedAt,
	}
	if err := tx.WithContext(ctx).Create(item).Error; err != nil {
		tb.Fatalf("seed evidence: %v", err)
	}
	return item
}

func SeedCheckpoint(tb testing.TB, ctx context.Context, tx *gorm.DB, batchID uuid.UUID, seq int, cpType, resultingStatus string, qualityScore, freshnessScore *float64) *types.Checkpoint {
	tb.Helper()
	now := time.Now().UTC()
	cp := &types.Checkpoint{
		ID:              uuid.New(),
		BatchID:         batchID,
		SequenceNo:      seq,
		CheckpointType:  cpType,
		EvidenceRefs:    datatypes.JSON([]byte(`[]`)),
		ResultingStatus: resultingStatus,
		QualityScore:    qualityScore,
		FreshnessScore:  freshnessScore,
		ContentHash:     "seed",
		AnchorStatus:    types.AnchorStatusPending,
		RecordedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := tx.WithContext(ctx).Create(cp).Error; err != nil {
		tb.Fatalf("seed checkpoint: %v", err)
	}
	return cp
}

func SeedFraudFlag(tb testing.TB, ctx context.Context, tx *gorm.DB, subjectID uuid.UUID, severity, kind string) *types.FraudFlag {
	tb.Helper()
	f := &types.FraudFlag{
		ID:                  uuid.New(),
		SubjectID:           subjectID,
		SubjectType:         types.SubjectTypeFarmer,
		Severity:            severity,
		Kind:                kind,
		Confidence:          0.9,
		RelatedEvidenceRefs: datatypes.JSON([]byte(`[]`)),
	}
	if err := tx.WithContext(ctx).Create(f).Error; err != nil {
		tb.Fatalf("seed fraud flag: %v", err)
	}
	return f
}

func Float(v float64) *float64 { return &v }
