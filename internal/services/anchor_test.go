package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/repos/testutil"
	"github.com/agritrust/agritrust-backend/internal/types"
)

// flakyLedger fails a fixed number of times before anchoring.
type flakyLedger struct {
	mu       sync.Mutex
	failures int
	attempts int
}

func (l *flakyLedger) Anchor(ctx context.Context, contentHash string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.attempts <= l.failures {
		return "", errors.New("ledger unavailable")
	}
	return fmt.Sprintf("anchor-%s", contentHash[:8]), nil
}

func newAnchorFixture(t *testing.T, ledgerFailures int, cfg config.AnchorConfig) (*anchorService, repos.BatchRepo, repos.CheckpointRepo, *types.Batch, *types.Checkpoint) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	batchRepo := repos.NewBatchRepo(db, log)
	checkpointRepo := repos.NewCheckpointRepo(db, log)

	ctx := context.Background()
	batch := testutil.SeedBatch(t, ctx, db, uuid.New(), types.BatchStatusHarvested, time.Now().UTC())
	cp := testutil.SeedCheckpoint(t, ctx, db, batch.ID, 1, types.CheckpointTypeHarvest, types.BatchStatusHarvested, nil, nil)

	svc := NewAnchorService(db, log, cfg, &flakyLedger{failures: ledgerFailures}, batchRepo, checkpointRepo, nil).(*anchorService)
	return svc, batchRepo, checkpointRepo, batch, cp
}

func fastAnchorConfig() config.AnchorConfig {
	return config.AnchorConfig{MaxAttempts: 3, BackoffMs: 1, BackoffMaxMs: 5, QueueSize: 4}
}

func TestAnchorRetriesUntilSuccess(t *testing.T) {
	svc, batchRepo, checkpointRepo, batch, cp := newAnchorFixture(t, 2, fastAnchorConfig())
	ctx := context.Background()

	svc.process(ctx, AnchorJob{CheckpointID: cp.ID, BatchID: batch.ID, ContentHash: "feedfacefeedface"})

	stored, err := checkpointRepo.GetLatestByBatchID(ctx, nil, batch.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload checkpoint: %v", err)
	}
	if stored.AnchorStatus != types.AnchorStatusAnchored {
		t.Fatalf("anchor status = %q, want anchored", stored.AnchorStatus)
	}
	if stored.AnchorTxRef == nil || *stored.AnchorTxRef == "" {
		t.Fatal("tx ref not recorded")
	}

	reloaded, err := batchRepo.GetByID(ctx, nil, batch.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload batch: %v", err)
	}
	if reloaded.LedgerAnchorRef == nil || *reloaded.LedgerAnchorRef != *stored.AnchorTxRef {
		t.Fatal("batch ledger_anchor_ref not updated")
	}
}

func TestAnchorExhaustionRecordsWarning(t *testing.T) {
	svc, _, checkpointRepo, batch, cp := newAnchorFixture(t, 100, fastAnchorConfig())
	ctx := context.Background()

	svc.process(ctx, AnchorJob{CheckpointID: cp.ID, BatchID: batch.ID, ContentHash: "deadbeefdeadbeef"})

	stored, err := checkpointRepo.GetLatestByBatchID(ctx, nil, batch.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload checkpoint: %v", err)
	}
	if stored.AnchorStatus != types.AnchorStatusFailed {
		t.Fatalf("anchor status = %q, want failed", stored.AnchorStatus)
	}
	if stored.AnchorWarning == "" {
		t.Fatal("failure reason not recorded")
	}
	if stored.AnchorTxRef != nil {
		t.Fatal("failed anchor must not carry a tx ref")
	}
}

func TestDispatchFullQueueDegradesToWarning(t *testing.T) {
	cfg := fastAnchorConfig()
	cfg.QueueSize = 1
	svc, _, checkpointRepo, batch, cp := newAnchorFixture(t, 0, cfg)
	ctx := context.Background()

	// The worker is not started, so the first job occupies the only slot and
	// the second must degrade instead of blocking.
	svc.Dispatch(AnchorJob{CheckpointID: uuid.New(), BatchID: batch.ID, ContentHash: "0000000000000000"})
	svc.Dispatch(AnchorJob{CheckpointID: cp.ID, BatchID: batch.ID, ContentHash: "1111111111111111"})

	stored, err := checkpointRepo.GetLatestByBatchID(ctx, nil, batch.ID)
	if err != nil || stored == nil {
		t.Fatalf("reload checkpoint: %v", err)
	}
	if stored.AnchorStatus != types.AnchorStatusFailed {
		t.Fatalf("anchor status = %q, want failed when the queue is full", stored.AnchorStatus)
	}
}

func TestAnchorWorkerDrainsQueue(t *testing.T) {
	svc, _, checkpointRepo, batch, cp := newAnchorFixture(t, 0, fastAnchorConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc.Start(ctx)
	svc.Dispatch(AnchorJob{CheckpointID: cp.ID, BatchID: batch.ID, ContentHash: "cafebabecafebabe"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := checkpointRepo.GetLatestByBatchID(ctx, nil, batch.ID)
		if err != nil {
			t.Fatalf("reload checkpoint: %v", err)
		}
		if stored.AnchorStatus == types.AnchorStatusAnchored {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("queued job not anchored before deadline")
}
