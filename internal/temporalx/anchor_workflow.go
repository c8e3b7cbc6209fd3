package temporalx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/clients/ledger"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/types"
)

const AnchorWorkflowName = "AnchorCheckpointWorkflow"

type AnchorInput struct {
	CheckpointID uuid.UUID `json:"checkpoint_id"`
	BatchID      uuid.UUID `json:"batch_id"`
	ContentHash  string    `json:"content_hash"`
	MaxAttempts  int       `json:"max_attempts"`
}

// AnchorWorkflow retries the anchor activity under Temporal's retry policy;
// on exhaustion it records the non-fatal warning instead of failing the run.
func AnchorWorkflow(ctx workflow.Context, input AnchorInput) error {
	maxAttempts := int32(input.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    maxAttempts,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	var a *AnchorActivities
	if err := workflow.ExecuteActivity(ctx, a.AnchorCheckpoint, input).Get(ctx, nil); err != nil {
		warnCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			StartToCloseTimeout: time.Minute,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
		return workflow.ExecuteActivity(warnCtx, a.RecordAnchorFailure, input, err.Error()).Get(warnCtx, nil)
	}
	return nil
}

type AnchorActivities struct {
	Ledger      ledger.Client
	Batches     repos.BatchRepo
	Checkpoints repos.CheckpointRepo
	Log         *logger.Logger
}

func (a *AnchorActivities) AnchorCheckpoint(ctx context.Context, input AnchorInput) error {
	txRef, err := a.Ledger.Anchor(ctx, input.ContentHash)
	if err != nil {
		return fmt.Errorf("anchor %s: %w", input.ContentHash, err)
	}
	if err := a.Checkpoints.SetAnchorResult(ctx, nil, input.CheckpointID, types.AnchorStatusAnchored, &txRef, ""); err != nil {
		return fmt.Errorf("persist anchor result: %w", err)
	}
	if err := a.Batches.SetLedgerAnchorRef(ctx, nil, input.BatchID, txRef); err != nil {
		return fmt.Errorf("persist batch anchor ref: %w", err)
	}
	return nil
}

func (a *AnchorActivities) RecordAnchorFailure(ctx context.Context, input AnchorInput, reason string) error {
	if a.Log != nil {
		a.Log.Warn("Ledger anchor exhausted retries", "checkpoint_id", input.CheckpointID, "error", reason)
	}
	return a.Checkpoints.SetAnchorResult(ctx, nil, input.CheckpointID, types.AnchorStatusFailed, nil, reason)
}

// StartAnchorWorker registers the workflow and activities and runs a worker
// on the anchor task queue until the returned stop func is called.
func StartAnchorWorker(c temporalsdkclient.Client, db *gorm.DB, log *logger.Logger, ledgerClient ledger.Client) (func(), error) {
	if c == nil {
		return func() {}, nil
	}

	w := worker.New(c, TaskQueue(), worker.Options{})
	activities := &AnchorActivities{
		Ledger:      ledgerClient,
		Batches:     repos.NewBatchRepo(db, log),
		Checkpoints: repos.NewCheckpointRepo(db, log),
		Log:         log.With("worker", "AnchorWorker"),
	}
	w.RegisterWorkflowWithOptions(AnchorWorkflow, workflow.RegisterOptions{Name: AnchorWorkflowName})
	w.RegisterActivity(activities)

	if err := w.Start(); err != nil {
		return nil, fmt.Errorf("start anchor worker: %w", err)
	}
	return w.Stop, nil
}
