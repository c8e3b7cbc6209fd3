package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
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

// transitions is the canonical adjacency table. rejected is reachable from
// every non-terminal state; delivered and rejected are terminal.
var transitions = map[string][]string{
	types.BatchStatusHarvested:    {types.BatchStatusInTransit, types.BatchStatusRejected},
	types.BatchStatusInTransit:    {types.BatchStatusQualityCheck, types.BatchStatusRejected},
	types.BatchStatusQualityCheck: {types.BatchStatusDelivered, types.BatchStatusRejected},
	types.BatchStatusDelivered:    {},
	types.BatchStatusRejected:     {},
}

var checkpointTypeForStatus = map[string]string{
	types.BatchStatusInTransit:    types.CheckpointTypeTransitStart,
	types.BatchStatusQualityCheck: types.CheckpointTypeInspectionArrival,
	types.BatchStatusDelivered:    types.CheckpointTypeDelivery,
	types.BatchStatusRejected:     types.CheckpointTypeRejection,
}

type LifecycleService interface {
	// Advance validates and applies one status transition. Calls for the same
	// batch are mutually exclusive; different batches proceed in parallel.
	Advance(ctx context.Context, batchID uuid.UUID, targetStatus string, evidenceRefs []uuid.UUID) (*types.Batch, error)
}

type lifecycleService struct {
	db             *gorm.DB
	log            *logger.Logger
	cfg            config.Config
	batchRepo      repos.BatchRepo
	checkpointRepo repos.CheckpointRepo
	fraudFlagRepo  repos.FraudFlagRepo
	anchors        AnchorDispatcher
	provenance     *graph.Client

	locks sync.Map // batchID -> *sync.Mutex
}

func NewLifecycleService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.Config,
	batchRepo repos.BatchRepo,
	checkpointRepo repos.CheckpointRepo,
	fraudFlagRepo repos.FraudFlagRepo,
	anchors AnchorDispatcher,
	provenance *graph.Client,
) LifecycleService {
	serviceLog := baseLog.With("service", "LifecycleService")
	return &lifecycleService{
		db:             db,
		log:            serviceLog,
		cfg:            cfg,
		batchRepo:      batchRepo,
		checkpointRepo: checkpointRepo,
		fraudFlagRepo:  fraudFlagRepo,
		anchors:        anchors,
		provenance:     provenance,
	}
}

func (ls *lifecycleService) lockFor(batchID uuid.UUID) *sync.Mutex {
	mu, _ := ls.locks.LoadOrStore(batchID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (ls *lifecycleService) Advance(ctx context.Context, batchID uuid.UUID, targetStatus string, evidenceRefs []uuid.UUID) (*types.Batch, error) {
	mu := ls.lockFor(batchID)
	mu.Lock()
	defer mu.Unlock()

	batch, err := ls.batchRepo.GetByID(ctx, nil, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if batch == nil {
		return nil, apierr.NotFound("batch")
	}

	if !adjacent(batch.Status, targetStatus) {
		return nil, apierr.InvalidTransition(batch.Status, targetStatus)
	}

	latestQuality, err := ls.checkpointRepo.GetLatestQualityByBatchID(ctx, nil, batchID)
	if err != nil {
		return nil, fmt.Errorf("load latest quality checkpoint: %w", err)
	}

	if targetStatus == types.BatchStatusDelivered {
		if err := ls.checkDeliveryGates(ctx, batch, latestQuality); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	freshness := 100.0
	if latestQuality != nil && latestQuality.FreshnessScore != nil {
		freshness = *latestQuality.FreshnessScore
	}

	transitHours, err := ls.transitHours(ctx, batchID, targetStatus, now)
	if err != nil {
		return nil, err
	}
	spoilage := ls.spoilageRisk(now.Sub(batch.HarvestDate).Hours(), transitHours, freshness)

	hash := checkpointContentHash(batchID, targetStatus, now, evidenceRefs)
	refsJSON, _ := json.Marshal(evidenceRefs)

	cp := &types.Checkpoint{
		ID:              uuid.New(),
		BatchID:         batchID,
		CheckpointType:  checkpointTypeForStatus[targetStatus],
		EvidenceRefs:    datatypes.JSON(refsJSON),
		ResultingStatus: targetStatus,
		ContentHash:     hash,
		AnchorStatus:    types.AnchorStatusPending,
		RecordedAt:      now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	// The status update and checkpoint append commit together; the sequence
	// slot is retried on conflict with appends from other replicas.
	for attempt := 0; attempt < 3; attempt++ {
		err = ls.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			maxSeq, err := ls.checkpointRepo.MaxSequenceNo(ctx, tx, batchID)
			if err != nil {
				return err
			}
			cp.SequenceNo = maxSeq + 1
			if _, err := ls.checkpointRepo.Create(ctx, tx, cp); err != nil {
				return err
			}
			return ls.batchRepo.UpdateDerived(ctx, tx, batchID, map[string]any{
				"status":              targetStatus,
				"spoilage_risk_score": spoilage,
				"updated_at":          now,
			})
		})
		if !errors.Is(err, repos.ErrSequenceConflict) {
			break
		}
	}
	if err != nil {
		ls.log.Error("Advance failed", "error", err, "batch_id", batchID, "target", targetStatus)
		return nil, fmt.Errorf("apply transition: %w", err)
	}

	batch.Status = targetStatus
	batch.SpoilageRiskScore = spoilage
	batch.UpdatedAt = now

	// Anchoring is fire-and-forget: failures are retried by the worker and
	// never block the transition.
	ls.anchors.Dispatch(AnchorJob{
		CheckpointID: cp.ID,
		BatchID:      batchID,
		ContentHash:  hash,
	})
	ls.provenance.SyncCheckpoint(ctx, batch, cp)

	ls.log.Info("Batch advanced",
		"batch_id", batchID,
		"checkpoint_type", cp.CheckpointType,
		"status", targetStatus,
		"sequence_no", cp.SequenceNo,
		"spoilage_risk", spoilage,
	)
	return batch, nil
}

func (ls *lifecycleService) checkDeliveryGates(ctx context.Context, batch *types.Batch, latestQuality *types.Checkpoint) error {
	if latestQuality == nil || latestQuality.QualityScore == nil {
		return apierr.QualityGateFailed(0, ls.cfg.Quality.MinAcceptScore)
	}
	if *latestQuality.QualityScore < ls.cfg.Quality.MinAcceptScore {
		return apierr.QualityGateFailed(*latestQuality.QualityScore, ls.cfg.Quality.MinAcceptScore)
	}

	for _, subjectID := range []uuid.UUID{batch.ID, batch.OwnerID} {
		blocked, err := ls.fraudFlagRepo.HasUnresolvedSeverity(ctx, nil, subjectID, []string{types.SeverityCritical})
		if err != nil {
			return fmt.Errorf("check fraud flags: %w", err)
		}
		if blocked {
			return apierr.TransitionBlocked(fmt.Sprintf("unresolved critical fraud flag for subject %s", subjectID))
		}
	}
	return nil
}

// transitHours measures how long the batch has been (or was) in transit,
// derived from the checkpoint trail.
func (ls *lifecycleService) transitHours(ctx context.Context, batchID uuid.UUID, targetStatus string, now time.Time) (float64, error) {
	cps, err := ls.checkpointRepo.GetByBatchID(ctx, nil, batchID)
	if err != nil {
		return 0, fmt.Errorf("load checkpoints: %w", err)
	}

	var transitStart, transitEnd *time.Time
	for _, cp := range cps {
		switch cp.CheckpointType {
		case types.CheckpointTypeTransitStart:
			t := cp.RecordedAt
			transitStart = &t
		case types.CheckpointTypeInspectionArrival:
			t := cp.RecordedAt
			transitEnd = &t
		}
	}
	if transitStart == nil {
		return 0, nil
	}
	end := now
	if transitEnd != nil {
		end = *transitEnd
	}
	hours := end.Sub(*transitStart).Hours()
	if hours < 0 {
		hours = 0
	}
	return hours, nil
}

// spoilageRisk is monotonically increasing in elapsed and transit time and
// decreasing in freshness, clamped to [0,100].
func (ls *lifecycleService) spoilageRisk(elapsedHours, transitHours, freshness float64) float64 {
	if elapsedHours < 0 {
		elapsedHours = 0
	}
	risk := elapsedHours*ls.cfg.Spoilage.ElapsedPerHour +
		transitHours*ls.cfg.Spoilage.TransitPerHour +
		(100-freshness)*ls.cfg.Spoilage.FreshnessWeight
	return clamp(risk, 0, 100)
}

func adjacent(current, target string) bool {
	for _, allowed := range transitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

// checkpointContentHash is the anchored digest of {batchId, status,
// timestamp, evidenceRefs}; refs are sorted so the hash is order-independent.
func checkpointContentHash(batchID uuid.UUID, status string, ts time.Time, evidenceRefs []uuid.UUID) string {
	refs := make([]string, 0, len(evidenceRefs))
	for _, ref := range evidenceRefs {
		refs = append(refs, ref.String())
	}
	sort.Strings(refs)

	h := sha256.New()
	h.Write([]byte(batchID.String()))
	h.Write([]byte(status))
	h.Write([]byte(ts.UTC().Format(time.RFC3339Nano)))
	for _, ref := range refs {
		h.Write([]byte(ref))
	}
	return hex.EncodeToString(h.Sum(nil))
}
