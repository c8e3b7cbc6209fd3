package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/clients/ledger"
	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/temporalx"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type AnchorJob struct {
	CheckpointID uuid.UUID
	BatchID      uuid.UUID
	ContentHash  string
}

// AnchorDispatcher accepts anchor jobs without blocking the caller.
type AnchorDispatcher interface {
	Dispatch(job AnchorJob)
}

type AnchorService interface {
	AnchorDispatcher
	Start(ctx context.Context)
}

type anchorService struct {
	db             *gorm.DB
	log            *logger.Logger
	cfg            config.AnchorConfig
	ledger         ledger.Client
	batchRepo      repos.BatchRepo
	checkpointRepo repos.CheckpointRepo

	temporal temporalsdkclient.Client
	queue    chan AnchorJob
}

func NewAnchorService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.AnchorConfig,
	ledgerClient ledger.Client,
	batchRepo repos.BatchRepo,
	checkpointRepo repos.CheckpointRepo,
	temporalClient temporalsdkclient.Client,
) AnchorService {
	serviceLog := baseLog.With("service", "AnchorService")
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &anchorService{
		db:             db,
		log:            serviceLog,
		cfg:            cfg,
		ledger:         ledgerClient,
		batchRepo:      batchRepo,
		checkpointRepo: checkpointRepo,
		temporal:       temporalClient,
		queue:          make(chan AnchorJob, queueSize),
	}
}

// Dispatch never blocks a state transition. When Temporal is configured the
// job becomes a durable workflow; otherwise it goes to the in-process queue.
// A full queue degrades to a recorded warning rather than backpressure.
func (as *anchorService) Dispatch(job AnchorJob) {
	if as.temporal != nil {
		go as.dispatchTemporal(job)
		return
	}
	select {
	case as.queue <- job:
	default:
		as.log.Warn("Anchor queue full; marking checkpoint anchor failed", "checkpoint_id", job.CheckpointID)
		as.recordFailure(context.Background(), job, "anchor queue full")
	}
}

func (as *anchorService) dispatchTemporal(job AnchorJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Workflow id is derived from the content hash so redelivery of the same
	// checkpoint dedupes instead of double-anchoring.
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:        "anchor-" + job.ContentHash,
		TaskQueue: temporalx.TaskQueue(),
	}
	input := temporalx.AnchorInput{
		CheckpointID: job.CheckpointID,
		BatchID:      job.BatchID,
		ContentHash:  job.ContentHash,
		MaxAttempts:  as.cfg.MaxAttempts,
	}
	if _, err := as.temporal.ExecuteWorkflow(ctx, opts, temporalx.AnchorWorkflowName, input); err != nil {
		as.log.Warn("Temporal anchor dispatch failed; falling back to in-process queue", "error", err, "checkpoint_id", job.CheckpointID)
		select {
		case as.queue <- job:
		default:
			as.recordFailure(context.Background(), job, fmt.Sprintf("temporal dispatch failed: %v", err))
		}
	}
}

// Start runs the in-process retry worker until ctx is cancelled.
func (as *anchorService) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-as.queue:
				as.process(ctx, job)
			}
		}
	}()
}

func (as *anchorService) process(ctx context.Context, job AnchorJob) {
	maxAttempts := as.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	backoff := time.Duration(as.cfg.BackoffMs) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	backoffMax := time.Duration(as.cfg.BackoffMaxMs) * time.Millisecond
	if backoffMax <= 0 {
		backoffMax = 30 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		txRef, err := as.ledger.Anchor(ctx, job.ContentHash)
		if err == nil {
			as.recordSuccess(ctx, job, txRef)
			return
		}
		lastErr = err
		as.log.Warn("Ledger anchor attempt failed",
			"checkpoint_id", job.CheckpointID,
			"attempt", attempt,
			"error", err,
		)

		if attempt == maxAttempts {
			break
		}
		sleep := backoff * time.Duration(1<<(attempt-1))
		if sleep > backoffMax {
			sleep = backoffMax
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
	as.recordFailure(ctx, job, fmt.Sprintf("exhausted %d attempts: %v", maxAttempts, lastErr))
}

func (as *anchorService) recordSuccess(ctx context.Context, job AnchorJob, txRef string) {
	if err := as.checkpointRepo.SetAnchorResult(ctx, nil, job.CheckpointID, types.AnchorStatusAnchored, &txRef, ""); err != nil {
		as.log.Error("Failed to persist anchor result", "error", err, "checkpoint_id", job.CheckpointID)
		return
	}
	if err := as.batchRepo.SetLedgerAnchorRef(ctx, nil, job.BatchID, txRef); err != nil {
		as.log.Error("Failed to persist batch anchor ref", "error", err, "batch_id", job.BatchID)
	}
	as.log.Info("Checkpoint anchored", "checkpoint_id", job.CheckpointID, "tx_ref", txRef)
}

// recordFailure attaches the warning to the checkpoint; anchoring failure is
// never fatal to the batch.
func (as *anchorService) recordFailure(ctx context.Context, job AnchorJob, reason string) {
	if err := as.checkpointRepo.SetAnchorResult(ctx, nil, job.CheckpointID, types.AnchorStatusFailed, nil, reason); err != nil {
		as.log.Error("Failed to persist anchor warning", "error", err, "checkpoint_id", job.CheckpointID)
	}
}
