package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/clients/redis"
	"github.com/agritrust/agritrust-backend/internal/clients/scorer"
	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/types"
)

type TrustService interface {
	// Assess computes and persists a new snapshot from all non-superseded
	// evidence recorded before the assessment time. Concurrent calls for the
	// same subject are safe; each inserts its own snapshot.
	Assess(ctx context.Context, subjectID uuid.UUID, subjectType string) (*types.TrustScoreSnapshot, error)
	Latest(ctx context.Context, subjectID uuid.UUID) (*types.TrustScoreSnapshot, error)
	History(ctx context.Context, subjectID uuid.UUID) ([]*types.TrustScoreSnapshot, error)
}

type trustService struct {
	db            *gorm.DB
	log           *logger.Logger
	cfg           config.TrustConfig
	evidenceRepo  repos.EvidenceRepo
	snapshotRepo  repos.TrustSnapshotRepo
	fraudFlagRepo repos.FraudFlagRepo
	scorer        scorer.Scorer
	cache         *redis.SnapshotCache
}

func NewTrustService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.TrustConfig,
	evidenceRepo repos.EvidenceRepo,
	snapshotRepo repos.TrustSnapshotRepo,
	fraudFlagRepo repos.FraudFlagRepo,
	evidenceScorer scorer.Scorer,
	cache *redis.SnapshotCache,
) TrustService {
	serviceLog := baseLog.With("service", "TrustService")
	return &trustService{
		db:            db,
		log:           serviceLog,
		cfg:           cfg,
		evidenceRepo:  evidenceRepo,
		snapshotRepo:  snapshotRepo,
		fraudFlagRepo: fraudFlagRepo,
		scorer:        evidenceScorer,
		cache:         cache,
	}
}

// dimensionOutcome is one dimension's contribution. Skipped dimensions
// (scorer exhausted) drop out of both numerator and denominator.
type dimensionOutcome struct {
	dimension string
	score     float64
	weight    float64
	items     []*types.EvidenceItem
	skipped   bool
}

func (ts *trustService) Assess(ctx context.Context, subjectID uuid.UUID, subjectType string) (*types.TrustScoreSnapshot, error) {
	now := time.Now().UTC()

	items, err := ts.evidenceRepo.GetActiveBySubject(ctx, nil, subjectID, now)
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}

	if len(items) == 0 {
		// Zero evidence never silently approves: floor snapshot, review.
		return ts.persistSnapshot(ctx, &types.TrustScoreSnapshot{
			ID:              uuid.New(),
			SubjectID:       subjectID,
			SubjectType:     subjectType,
			OverallScore:    0,
			DimensionScores: datatypes.JSON([]byte(`{}`)),
			RiskLevel:       types.RiskLevelVeryHigh,
			Recommendation:  types.RecommendationReview,
			ConfidencePct:   0,
			InputsHash:      hashInputs(nil, ts.cfg.DefaultEvidenceConfidence),
			ComputedAt:      now,
			CreatedAt:       now,
		})
	}

	byDimension := map[string][]*types.EvidenceItem{}
	for _, item := range items {
		byDimension[item.Dimension] = append(byDimension[item.Dimension], item)
	}

	outcomes := ts.scoreDimensions(ctx, subjectID, subjectType, byDimension, now)

	var (
		weightedSum, weightSum float64
		scoredItems            []*types.EvidenceItem
		dimScores              = map[string]float64{}
		minScore               = math.MaxFloat64
		maxScore               = -math.MaxFloat64
		scoredDims             int
	)
	for _, out := range outcomes {
		if out.skipped || out.weight <= 0 {
			continue
		}
		weightedSum += out.score * out.weight
		weightSum += out.weight
		dimScores[out.dimension] = round2(out.score)
		scoredItems = append(scoredItems, out.items...)
		scoredDims++
		if out.score < minScore {
			minScore = out.score
		}
		if out.score > maxScore {
			maxScore = out.score
		}
	}

	overall := 0.0
	if weightSum > 0 {
		overall = round2(weightedSum / weightSum)
	}
	confidencePct := round2(100 * weightSum / float64(len(types.AllDimensions)))
	riskLevel := ts.riskLevel(overall)

	if scoredDims >= 2 && maxScore-minScore > ts.cfg.ConflictSpread {
		ts.recordConflictFlag(ctx, subjectID, subjectType, outcomes, maxScore-minScore)
	}

	recommendation, err := ts.recommend(ctx, subjectID, riskLevel)
	if err != nil {
		return nil, err
	}

	dimJSON, _ := json.Marshal(dimScores)
	return ts.persistSnapshot(ctx, &types.TrustScoreSnapshot{
		ID:              uuid.New(),
		SubjectID:       subjectID,
		SubjectType:     subjectType,
		OverallScore:    overall,
		DimensionScores: datatypes.JSON(dimJSON),
		RiskLevel:       riskLevel,
		Recommendation:  recommendation,
		ConfidencePct:   confidencePct,
		InputsHash:      hashInputs(scoredItems, ts.cfg.DefaultEvidenceConfidence),
		ComputedAt:      now,
		CreatedAt:       now,
	})
}

// scoreDimensions fans the adapter calls out, one goroutine per dimension.
// Adapter exhaustion marks that dimension's evidence scoring_pending and
// degrades the snapshot instead of failing it.
func (ts *trustService) scoreDimensions(ctx context.Context, subjectID uuid.UUID, subjectType string, byDimension map[string][]*types.EvidenceItem, now time.Time) []dimensionOutcome {
	dims := make([]string, 0, len(byDimension))
	for d := range byDimension {
		dims = append(dims, d)
	}
	sort.Strings(dims)

	outcomes := make([]dimensionOutcome, len(dims))
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)

	for i, dim := range dims {
		i, dim := i, dim
		dimItems := byDimension[dim]
		eg.Go(func() error {
			result, err := ts.scoreWithRetry(egCtx, subjectID, subjectType, dim, dimItems)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				ts.log.Warn("Evidence scorer unavailable; dimension excluded from this assessment",
					"dimension", dim, "subject_id", subjectID, "error", err)
				ids := itemIDs(dimItems)
				if markErr := ts.evidenceRepo.SetScoringStatus(ctx, nil, ids, types.EvidenceStatusScoringPending); markErr != nil {
					ts.log.Error("Failed to mark evidence scoring_pending", "error", markErr)
				}
				outcomes[i] = dimensionOutcome{dimension: dim, skipped: true}
				return nil
			}

			var pending []uuid.UUID
			for _, item := range dimItems {
				if item.ScoringStatus == types.EvidenceStatusScoringPending {
					pending = append(pending, item.ID)
				}
			}
			if len(pending) > 0 {
				if markErr := ts.evidenceRepo.SetScoringStatus(ctx, nil, pending, types.EvidenceStatusReady); markErr != nil {
					ts.log.Error("Failed to clear scoring_pending", "error", markErr)
				}
			}

			outcomes[i] = dimensionOutcome{
				dimension: dim,
				score:     result.Score,
				weight:    ts.dimensionWeight(dimItems, now) * result.Confidence,
				items:     dimItems,
			}
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func (ts *trustService) scoreWithRetry(ctx context.Context, subjectID uuid.UUID, subjectType, dimension string, items []*types.EvidenceItem) (scorer.Result, error) {
	bundle := scorer.Bundle{
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Dimension:   dimension,
	}
	for _, item := range items {
		bundle.Items = append(bundle.Items, scorer.BundleItem{
			ID:         item.ID,
			Confidence: item.Confidence,
			RecordedAt: item.RecordedAt,
			Payload:    json.RawMessage(item.Payload),
		})
	}

	retries := ts.cfg.ScorerRetries
	if retries < 1 {
		retries = 1
	}
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return scorer.Result{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			}
		}
		result, err := ts.scorer.Score(ctx, bundle)
		if err == nil {
			return result, nil
		}
		lastErr = err
	}
	return scorer.Result{}, lastErr
}

// dimensionWeight is the mean decayed confidence of the dimension's items.
// Age is counted in whole days so an assessment replayed within the same day
// reproduces identical weights.
func (ts *trustService) dimensionWeight(items []*types.EvidenceItem, now time.Time) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, item := range items {
		conf := ts.cfg.DefaultEvidenceConfidence
		if item.Confidence != nil {
			conf = *item.Confidence
		}
		sum += (conf / 100) * ts.decay(now.Sub(item.RecordedAt))
	}
	return sum / float64(len(items))
}

// decay halves influence every half-life and never drops below the floor:
// old evidence fades but does not vanish.
func (ts *trustService) decay(age time.Duration) float64 {
	days := math.Floor(age.Hours() / 24)
	if days < 0 {
		days = 0
	}
	halfLife := ts.cfg.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 30
	}
	factor := math.Pow(0.5, days/halfLife)
	if factor < ts.cfg.DecayFloor {
		return ts.cfg.DecayFloor
	}
	return factor
}

func (ts *trustService) riskLevel(overall float64) string {
	switch {
	case overall >= ts.cfg.RiskLowMin:
		return types.RiskLevelLow
	case overall >= ts.cfg.RiskMediumMin:
		return types.RiskLevelMedium
	case overall >= ts.cfg.RiskHighMin:
		return types.RiskLevelHigh
	default:
		return types.RiskLevelVeryHigh
	}
}

func (ts *trustService) recommend(ctx context.Context, subjectID uuid.UUID, riskLevel string) (string, error) {
	flags, err := ts.fraudFlagRepo.GetUnresolvedBySubjectID(ctx, nil, subjectID)
	if err != nil {
		return "", fmt.Errorf("load fraud flags: %w", err)
	}
	var hasHigh, hasCritical bool
	for _, flag := range flags {
		switch flag.Severity {
		case types.SeverityCritical:
			hasCritical = true
		case types.SeverityHigh:
			hasHigh = true
		}
	}

	switch {
	case riskLevel == types.RiskLevelVeryHigh || hasCritical:
		return types.RecommendationReject, nil
	case riskLevel == types.RiskLevelLow && !hasHigh && !hasCritical:
		return types.RecommendationApprove, nil
	default:
		return types.RecommendationReview, nil
	}
}

func (ts *trustService) recordConflictFlag(ctx context.Context, subjectID uuid.UUID, subjectType string, outcomes []dimensionOutcome, spread float64) {
	var refs []uuid.UUID
	for _, out := range outcomes {
		if out.skipped {
			continue
		}
		refs = append(refs, itemIDs(out.items)...)
	}
	refsJSON, _ := json.Marshal(refs)

	flag := &types.FraudFlag{
		ID:                  uuid.New(),
		SubjectID:           subjectID,
		SubjectType:         subjectType,
		Severity:            types.SeverityMedium,
		Kind:                types.FlagKindEvidenceConflict,
		Confidence:          0.6,
		RelatedEvidenceRefs: datatypes.JSON(refsJSON),
	}
	if _, err := ts.fraudFlagRepo.Create(ctx, nil, []*types.FraudFlag{flag}); err != nil {
		ts.log.Error("Failed to record evidence_conflict flag", "error", err, "subject_id", subjectID)
		return
	}
	ts.log.Warn("Dimension scores conflict", "subject_id", subjectID, "spread", spread)
}

func (ts *trustService) persistSnapshot(ctx context.Context, snap *types.TrustScoreSnapshot) (*types.TrustScoreSnapshot, error) {
	if _, err := ts.snapshotRepo.Create(ctx, nil, snap); err != nil {
		ts.log.Error("Persist snapshot failed", "error", err, "subject_id", snap.SubjectID)
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	ts.cache.SetLatest(ctx, snap)
	return snap, nil
}

func (ts *trustService) Latest(ctx context.Context, subjectID uuid.UUID) (*types.TrustScoreSnapshot, error) {
	if cached := ts.cache.GetLatest(ctx, subjectID); cached != nil {
		return cached, nil
	}
	snap, err := ts.snapshotRepo.GetLatestBySubjectID(ctx, nil, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load latest snapshot: %w", err)
	}
	return snap, nil
}

func (ts *trustService) History(ctx context.Context, subjectID uuid.UUID) ([]*types.TrustScoreSnapshot, error) {
	return ts.snapshotRepo.ListBySubjectID(ctx, nil, subjectID)
}

func itemIDs(items []*types.EvidenceItem) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// hashInputs digests the sorted (id, confidence) pairs of the evidence that
// actually entered the assessment, enabling exact replay verification.
func hashInputs(items []*types.EvidenceItem, defaultConfidence float64) string {
	pairs := make([]string, 0, len(items))
	for _, item := range items {
		conf := defaultConfidence
		if item.Confidence != nil {
			conf = *item.Confidence
		}
		pairs = append(pairs, fmt.Sprintf("%s:%.2f", item.ID, conf))
	}
	sort.Strings(pairs)
	sum := sha256.Sum256([]byte(strings.Join(pairs, "|")))
	return hex.EncodeToString(sum[:])
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
