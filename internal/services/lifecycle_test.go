package services

import (
	"context"
	"sync"
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

type captureDispatcher struct {
	mu   sync.Mutex
	jobs []AnchorJob
}

func (d *captureDispatcher) Dispatch(job AnchorJob) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
}

func (d *captureDispatcher) Jobs() []AnchorJob {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]AnchorJob{}, d.jobs...)
}

type lifecycleFixture struct {
	db             *gorm.DB
	service        LifecycleService
	batchRepo      repos.BatchRepo
	checkpointRepo repos.CheckpointRepo
	dispatcher     *captureDispatcher
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	batchRepo := repos.NewBatchRepo(db, log)
	checkpointRepo := repos.NewCheckpointRepo(db, log)
	fraudFlagRepo := repos.NewFraudFlagRepo(db, log)
	dispatcher := &captureDispatcher{}

	svc := NewLifecycleService(db, log, config.Default(), batchRepo, checkpointRepo, fraudFlagRepo, dispatcher, nil)
	return &lifecycleFixture{
		db:             db,
		service:        svc,
		batchRepo:      batchRepo,
		checkpointRepo: checkpointRepo,
		dispatcher:     dispatcher,
	}
}

func TestAdvanceHappyPath(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	batch := testutil.SeedBatch(t, ctx, fx.db, uuid.New(), types.BatchStatusHarvested, time.Now().UTC().Add(-2*time.Hour))

	got, err := fx.service.Advance(ctx, batch.ID, types.BatchStatusInTransit, nil)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if got.Status != types.BatchStatusInTransit {
		t.Fatalf("status = %q, want in_transit", got.Status)
	}

	stored, err := fx.batchRepo.GetByID(ctx, nil, batch.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload batch: %v", err)
	}
	if stored.Status != types.BatchStatusInTransit {
		t.Fatalf("persisted status = %q, want in_transit", stored.Status)
	}

	cps, err := fx.checkpointRepo.GetByBatchID(ctx, nil, batch.ID)
	if err != nil {
		t.Fatalf("load checkpoints: %v", err)
	}
	if len(cps) != 1 {
		t.Fatalf("checkpoint count = %d, want 1", len(cps))
	}
	cp := cps[0]
	if cp.CheckpointType != types.CheckpointTypeTransitStart {
		t.Fatalf("checkpoint type = %q, want transit_start", cp.CheckpointType)
	}
	if cp.SequenceNo != 1 {
		t.Fatalf("sequence_no = %d, want 1", cp.SequenceNo)
	}
	if cp.AnchorStatus != types.AnchorStatusPending {
		t.Fatalf("anchor status = %q, want pending", cp.AnchorStatus)
	}
	if cp.ContentHash == "" {
		t.Fatal("content hash is empty")
	}

	jobs := fx.dispatcher.Jobs()
	if len(jobs) != 1 {
		t.Fatalf("dispatched jobs = %d, want 1", len(jobs))
	}
	if jobs[0].ContentHash != cp.ContentHash || jobs[0].CheckpointID != cp.ID {
		t.Fatal("dispatched job does not match the stored checkpoint")
	}
}

func TestAdvanceSequenceNumbersAreContiguous(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	batch := testutil.SeedBatch(t, ctx, fx.db, uuid.New(), types.BatchStatusHarvested, time.Now().UTC().Add(-time.Hour))
	testutil.SeedCheckpoint(t, ctx, fx.db, batch.ID, 1, types.CheckpointTypeHarvest, types.BatchStatusHarvested, nil, nil)

	if _, err := fx.service.Advance(ctx, batch.ID, types.BatchStatusInTransit, nil); err != nil {
		t.Fatalf("advance to in_transit: %v", err)
	}
	if _, err := fx.service.Advance(ctx, batch.ID, types.BatchStatusQualityCheck, nil); err != nil {
		t.Fatalf("advance to quality_check: %v", err)
	}

	cps, err := fx.checkpointRepo.GetByBatchID(ctx, nil, batch.ID)
	if err != nil {
		t.Fatalf("load checkpoints: %v", err)
	}
	if len(cps) != 3 {
		t.Fatalf("checkpoint count = %d, want 3", len(cps))
	}
	for i, cp := range cps {
		if cp.SequenceNo != i+1 {
			t.Fatalf("checkpoint %d has sequence_no %d", i, cp.SequenceNo)
		}
	}
}

func TestAdvanceInvalidTransition(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	batch := testutil.SeedBatch(t, ctx, fx.db, uuid.New(), types.BatchStatusHarvested, time.Now().UTC())

	_, err := fx.service.Advance(ctx, batch.ID, types.BatchStatusDelivered, nil)
	if apierr.CodeOf(err) != apierr.CodeInvalidTransition {
		t.Fatalf("error code = %q, want invalid_transition (err=%v)", apierr.CodeOf(err), err)
	}
	if len(fx.dispatcher.Jobs()) != 0 {
		t.Fatal("rejected transition must not dispatch an anchor job")
	}
}

func TestAdvanceTerminalStatesAreFrozen(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	for _, terminal := range []string{types.BatchStatusDelivered, types.BatchStatusRejected} {
		batch := testutil.SeedBatch(t, ctx, fx.db, uuid.New(), terminal, time.Now().UTC())
		for _, target := range []string{types.BatchStatusInTransit, types.BatchStatusRejected, types.BatchStatusDelivered} {
			if _, err := fx.service.Advance(ctx, batch.ID, target, nil); apierr.CodeOf(err) != apierr.CodeInvalidTransition {
				t.Fatalf("%s -> %s: code = %q, want invalid_transition", terminal, target, apierr.CodeOf(err))
			}
		}
	}
}

func TestAdvanceUnknownBatch(t *testing.T) {
	fx := newLifecycleFixture(t)

	_, err := fx.service.Advance(context.Background(), uuid.New(), types.BatchStatusInTransit, nil)
	if apierr.CodeOf(err) != apierr.CodeNotFound {
		t.Fatalf("error code = %q, want not_found", apierr.CodeOf(err))
	}
}

func TestRejectionReachableFromEveryActiveState(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	for _, status := range []string{types.BatchStatusHarvested, types.BatchStatusInTransit, types.BatchStatusQualityCheck} {
		batch := testutil.SeedBatch(t, ctx, fx.db, uuid.New(), status, time.Now().UTC())
		got, err := fx.service.Advance(ctx, batch.ID, types.BatchStatusRejected, nil)
		if err != nil {
			t.Fatalf("%s -> rejected: %v", status, err)
		}
		if got.Status != types.BatchStatusRejected {
			t.Fatalf("status = %q, want rejected", got.Status)
		}
	}
}

func TestDeliveryGateRequiresPassingQualityScore(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()

	// No quality checkpoint at all.
	bare := testutil.SeedBatch(t, ctx, fx.db, uuid.New(), types.BatchStatusQualityCheck, time.Now().UTC())
	if _, err := fx.service.Advance(ctx, bare.ID, types.BatchStatusDelivered, nil); apierr.CodeOf(err) != apierr.CodeQualityGateFailed {
		t.Fatalf("no-quality code = %q, want quality_gate_failed", apierr.CodeOf(err))
	}

	// Quality score 40 against the default minimum of 60.
	failing := testutil.SeedBatch(t, ctx, fx.db, uuid.New(), types.BatchStatusQualityCheck, time.Now().UTC())
	testutil.SeedCheckpoint(t, ctx, fx.db, failing.ID, 1, types.CheckpointTypeQualityCheck, types.BatchStatusQualityCheck, testutil.Float(40), testutil.Float(70))
	if _, err := fx.service.Advance(ctx, failing.ID, types.BatchStatusDelivered, nil); apierr.CodeOf(err) != apierr.CodeQualityGateFailed {
		t.Fatalf("low-score code = %q, want quality_gate_failed", apierr.CodeOf(err))
	}

	// The same batch can still be rejected.
	if _, err := fx.service.Advance(ctx, failing.ID, types.BatchStatusRejected, nil); err != nil {
		t.Fatalf("rejecting gated batch: %v", err)
	}
}

func TestDeliveryBlockedByUnresolvedCriticalFlag(t *testing.T) {
	fx := newLifecycleFixture(t)
	ctx := context.Background()
	log := testutil.Logger(t)
	fraudRepo := repos.NewFraudFlagRepo(fx.db, log)

	owner := uuid.New()
	batch := testutil.SeedBatch(t, ctx, fx.db, owner, types.BatchStatusQualityCheck, time.Now().UTC())
	testutil.SeedCheckpoint(t, ctx, fx.db, batch.ID, 1, types.CheckpointTypeQualityCheck, types.BatchStatusQualityCheck, testutil.Float(85), testutil.Float(90))

	// A medium flag on the owner does not block delivery.
	testutil.SeedFraudFlag(t, ctx, fx.db, owner, types.SeverityMedium, types.FlagKindEvidenceConflict)
	// A critical one does, until acknowledged.
	critical := testutil.SeedFraudFlag(t, ctx, fx.db, owner, types.SeverityCritical, types.FlagKindBehavioralAnomaly)

	if _, err := fx.service.Advance(ctx, batch.ID, types.BatchStatusDelivered, nil); apierr.CodeOf(err) != apierr.CodeTransitionBlocked {
		t.Fatalf("error code = %q, want transition_blocked_by_fraud_flag", apierr.CodeOf(err))
	}

	if err := fraudRepo.Acknowledge(ctx, nil, critical.ID); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if _, err := fx.service.Advance(ctx, batch.ID, types.BatchStatusDelivered, nil); err != nil {
		t.Fatalf("delivery after acknowledgement: %v", err)
	}
}

func TestSpoilageRiskMonotonic(t *testing.T) {
	fx := newLifecycleFixture(t)
	ls := fx.service.(*lifecycleService)

	base := ls.spoilageRisk(10, 2, 90)
	if got := ls.spoilageRisk(20, 2, 90); got <= base {
		t.Fatalf("more elapsed time should raise risk: %v <= %v", got, base)
	}
	if got := ls.spoilageRisk(10, 8, 90); got <= base {
		t.Fatalf("more transit time should raise risk: %v <= %v", got, base)
	}
	if got := ls.spoilageRisk(10, 2, 50); got <= base {
		t.Fatalf("lower freshness should raise risk: %v <= %v", got, base)
	}
	if got := ls.spoilageRisk(10000, 10000, 0); got != 100 {
		t.Fatalf("risk must clamp at 100, got %v", got)
	}
	if got := ls.spoilageRisk(0, 0, 100); got != 0 {
		t.Fatalf("fresh batch risk = %v, want 0", got)
	}
}
