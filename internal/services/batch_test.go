package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/repos/testutil"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type batchFixture struct {
	db             *gorm.DB
	service        BatchService
	checkpointRepo repos.CheckpointRepo
	fraudRepo      repos.FraudFlagRepo
	dispatcher     *captureDispatcher
}

func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	cfg := config.Default()
	batchRepo := repos.NewBatchRepo(db, log)
	checkpointRepo := repos.NewCheckpointRepo(db, log)
	evidenceRepo := repos.NewEvidenceRepo(db, log)
	fraudRepo := repos.NewFraudFlagRepo(db, log)
	dispatcher := &captureDispatcher{}

	evidenceService := NewEvidenceService(db, log, evidenceRepo)
	qualityService := NewQualityService(log, cfg.Quality)
	svc := NewBatchService(db, log, cfg, batchRepo, checkpointRepo, evidenceRepo, fraudRepo, evidenceService, qualityService, dispatcher, nil)
	return &batchFixture{
		db:             db,
		service:        svc,
		checkpointRepo: checkpointRepo,
		fraudRepo:      fraudRepo,
		dispatcher:     dispatcher,
	}
}

func TestCreateBatchWritesHarvestCheckpoint(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	batch, err := fx.service.Create(ctx, owner, CreateBatchInput{
		CropRef:    "coffee-arabica",
		QuantityKg: 500,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if batch.Status != types.BatchStatusHarvested {
		t.Fatalf("status = %q, want harvested", batch.Status)
	}

	cps, err := fx.checkpointRepo.GetByBatchID(ctx, nil, batch.ID)
	if err != nil {
		t.Fatalf("load checkpoints: %v", err)
	}
	if len(cps) != 1 {
		t.Fatalf("checkpoint count = %d, want 1", len(cps))
	}
	if cps[0].CheckpointType != types.CheckpointTypeHarvest || cps[0].SequenceNo != 1 {
		t.Fatalf("first checkpoint = %s/%d, want harvest/1", cps[0].CheckpointType, cps[0].SequenceNo)
	}

	if len(fx.dispatcher.Jobs()) != 1 {
		t.Fatalf("anchor jobs = %d, want 1 for the harvest checkpoint", len(fx.dispatcher.Jobs()))
	}
}

func TestCreateBatchValidation(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	future := time.Now().UTC().Add(24 * time.Hour)

	cases := []CreateBatchInput{
		{CropRef: "", QuantityKg: 100},
		{CropRef: "maize", QuantityKg: 0},
		{CropRef: "maize", QuantityKg: -5},
		{CropRef: "maize", QuantityKg: 100, HarvestDate: &future},
	}
	for i, input := range cases {
		if _, err := fx.service.Create(ctx, uuid.New(), input); apierr.CodeOf(err) != apierr.CodeBadRequest {
			t.Errorf("case %d: code = %q, want bad_request", i, apierr.CodeOf(err))
		}
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	batch := testutil.SeedBatch(t, ctx, fx.db, owner, types.BatchStatusHarvested, time.Now().UTC())

	if _, err := fx.service.Get(ctx, owner, batch.ID); err != nil {
		t.Fatalf("owner read: %v", err)
	}
	if _, err := fx.service.Get(ctx, uuid.New(), batch.ID); apierr.CodeOf(err) != apierr.CodeForbidden {
		t.Fatalf("foreign read code = %q, want forbidden", apierr.CodeOf(err))
	}
	if _, err := fx.service.Get(ctx, owner, uuid.New()); apierr.CodeOf(err) != apierr.CodeNotFound {
		t.Fatalf("missing read code = %q, want not_found", apierr.CodeOf(err))
	}
}

func TestSubmitQualityCheckpointRequiresEvidence(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	batch := testutil.SeedBatch(t, ctx, fx.db, owner, types.BatchStatusQualityCheck, time.Now().UTC())

	_, _, err := fx.service.SubmitQualityCheckpoint(ctx, owner, batch.ID, QualityCheckpointInput{})
	if apierr.CodeOf(err) != apierr.CodeInsufficientEvidence {
		t.Fatalf("error code = %q, want insufficient_evidence", apierr.CodeOf(err))
	}
}

func TestSubmitQualityCheckpointRecordsResult(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	batch := testutil.SeedBatch(t, ctx, fx.db, owner, types.BatchStatusQualityCheck, time.Now().UTC().Add(-24*time.Hour))

	cp, result, err := fx.service.SubmitQualityCheckpoint(ctx, owner, batch.ID, QualityCheckpointInput{
		Evidence: []RecordEvidenceInput{{
			SourceID: "inspector-7",
			Payload: map[string]any{
				"visual_score":    90.0,
				"firmness_score":  80.0,
				"image_count":     4,
				"sensor_coverage": 1.0,
			},
		}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// 0.6*90 + 0.4*80 = 86 -> grade A.
	if result.QualityScore != 86 || result.Grade != "A" {
		t.Fatalf("result = %v/%s, want 86/A", result.QualityScore, result.Grade)
	}
	if cp.CheckpointType != types.CheckpointTypeQualityCheck {
		t.Fatalf("checkpoint type = %q, want quality_check", cp.CheckpointType)
	}
	if cp.ResultingStatus != types.BatchStatusQualityCheck {
		t.Fatal("quality checkpoint must not change batch status")
	}
	if cp.QualityScore == nil || *cp.QualityScore != 86 {
		t.Fatal("quality score not persisted on checkpoint")
	}

	reloaded, err := fx.service.Get(ctx, owner, batch.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.CurrentQualityGrade != "A" {
		t.Fatalf("current grade = %q, want A", reloaded.CurrentQualityGrade)
	}
	if reloaded.Status != types.BatchStatusQualityCheck {
		t.Fatalf("status changed to %q", reloaded.Status)
	}
}

func TestSubmitQualityCheckpointContaminationFlag(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	batch := testutil.SeedBatch(t, ctx, fx.db, owner, types.BatchStatusQualityCheck, time.Now().UTC())

	_, result, err := fx.service.SubmitQualityCheckpoint(ctx, owner, batch.ID, QualityCheckpointInput{
		Evidence: []RecordEvidenceInput{{
			SourceID: "lab-3",
			Payload: map[string]any{
				"visual_score":           95.0,
				"firmness_score":         95.0,
				"contamination_detected": true,
				"contaminant":            "aflatoxin",
			},
		}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.ContaminationDetected {
		t.Fatal("contamination not carried through")
	}

	blocked, err := fx.fraudRepo.HasUnresolvedSeverity(ctx, nil, batch.ID, []string{types.SeverityCritical})
	if err != nil {
		t.Fatalf("check flags: %v", err)
	}
	if !blocked {
		t.Fatal("contamination must raise an unresolved critical flag on the batch")
	}
}

func TestSubmitQualityCheckpointRejectsTerminalBatch(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	batch := testutil.SeedBatch(t, ctx, fx.db, owner, types.BatchStatusDelivered, time.Now().UTC())

	_, _, err := fx.service.SubmitQualityCheckpoint(ctx, owner, batch.ID, QualityCheckpointInput{
		Evidence: []RecordEvidenceInput{{SourceID: "x", Payload: map[string]any{"visual_score": 50.0}}},
	})
	if apierr.CodeOf(err) != apierr.CodeBadRequest {
		t.Fatalf("error code = %q, want bad_request", apierr.CodeOf(err))
	}
}

func TestSubmitQualityCheckpointUnknownRefs(t *testing.T) {
	fx := newBatchFixture(t)
	ctx := context.Background()
	owner := uuid.New()
	batch := testutil.SeedBatch(t, ctx, fx.db, owner, types.BatchStatusQualityCheck, time.Now().UTC())

	_, _, err := fx.service.SubmitQualityCheckpoint(ctx, owner, batch.ID, QualityCheckpointInput{
		EvidenceRefs: []uuid.UUID{uuid.New()},
	})
	if apierr.CodeOf(err) != apierr.CodeBadRequest {
		t.Fatalf("error code = %q, want bad_request for dangling refs", apierr.CodeOf(err))
	}
}
