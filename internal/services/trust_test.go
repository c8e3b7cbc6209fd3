package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/clients/scorer"
	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/repos/testutil"
	"github.com/agritrust/agritrust-backend/internal/types"
)

// fakeScorer returns a fixed score per dimension and can be told to fail
// specific dimensions on every attempt.
type fakeScorer struct {
	mu       sync.Mutex
	scores   map[string]float64
	failDims map[string]bool
	calls    map[string]int
}

func newFakeScorer(scores map[string]float64) *fakeScorer {
	return &fakeScorer{
		scores:   scores,
		failDims: map[string]bool{},
		calls:    map[string]int{},
	}
}

func (f *fakeScorer) Score(ctx context.Context, bundle scorer.Bundle) (scorer.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[bundle.Dimension]++
	if f.failDims[bundle.Dimension] {
		return scorer.Result{}, fmt.Errorf("scorer unavailable for %s", bundle.Dimension)
	}
	return scorer.Result{
		Dimension:  bundle.Dimension,
		Score:      f.scores[bundle.Dimension],
		Confidence: 1,
	}, nil
}

type trustFixture struct {
	db           *gorm.DB
	service      TrustService
	evidenceRepo repos.EvidenceRepo
	snapshotRepo repos.TrustSnapshotRepo
	fraudRepo    repos.FraudFlagRepo
	scorer       *fakeScorer
}

func newTrustFixture(t *testing.T, scores map[string]float64) *trustFixture {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	evidenceRepo := repos.NewEvidenceRepo(db, log)
	snapshotRepo := repos.NewTrustSnapshotRepo(db, log)
	fraudRepo := repos.NewFraudFlagRepo(db, log)
	fake := newFakeScorer(scores)

	cfg := config.Default().Trust
	cfg.ScorerRetries = 1 // keep failing-dimension tests fast

	svc := NewTrustService(db, log, cfg, evidenceRepo, snapshotRepo, fraudRepo, fake, nil)
	return &trustFixture{
		db:           db,
		service:      svc,
		evidenceRepo: evidenceRepo,
		snapshotRepo: snapshotRepo,
		fraudRepo:    fraudRepo,
		scorer:       fake,
	}
}

func TestAssessZeroEvidence(t *testing.T) {
	fx := newTrustFixture(t, nil)
	ctx := context.Background()
	subject := uuid.New()

	snap, err := fx.service.Assess(ctx, subject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if snap.OverallScore != 0 {
		t.Fatalf("overall = %v, want 0", snap.OverallScore)
	}
	if snap.RiskLevel != types.RiskLevelVeryHigh {
		t.Fatalf("risk = %q, want very_high", snap.RiskLevel)
	}
	if snap.Recommendation != types.RecommendationReview {
		t.Fatalf("recommendation = %q, want review (never silent approval)", snap.Recommendation)
	}
	if snap.ConfidencePct != 0 {
		t.Fatalf("confidence = %v, want 0", snap.ConfidencePct)
	}

	latest, err := fx.service.Latest(ctx, subject)
	if err != nil || latest == nil {
		t.Fatalf("latest after assess: %v, %v", latest, err)
	}
	if latest.InputsHash != snap.InputsHash {
		t.Fatal("persisted snapshot differs from returned one")
	}
}

func TestAssessWeightsFreshConfidentEvidence(t *testing.T) {
	fx := newTrustFixture(t, map[string]float64{types.DimensionQuality: 90})
	ctx := context.Background()
	subject := uuid.New()
	testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionQuality, 100, time.Now().UTC().Add(-time.Minute))

	snap, err := fx.service.Assess(ctx, subject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if snap.OverallScore != 90 {
		t.Fatalf("overall = %v, want 90", snap.OverallScore)
	}
	if snap.RiskLevel != types.RiskLevelLow {
		t.Fatalf("risk = %q, want low", snap.RiskLevel)
	}
	if snap.Recommendation != types.RecommendationApprove {
		t.Fatalf("recommendation = %q, want approve", snap.Recommendation)
	}
	// One fully-weighted dimension out of seven.
	if snap.ConfidencePct != 14.29 {
		t.Fatalf("confidence = %v, want 14.29", snap.ConfidencePct)
	}

	var dims map[string]float64
	if err := json.Unmarshal(snap.DimensionScores, &dims); err != nil {
		t.Fatalf("decode dimension scores: %v", err)
	}
	if dims[types.DimensionQuality] != 90 {
		t.Fatalf("dimension score = %v, want 90", dims[types.DimensionQuality])
	}
}

func TestAssessReplayIsReproducible(t *testing.T) {
	fx := newTrustFixture(t, map[string]float64{
		types.DimensionQuality: 80,
		types.DimensionSoil:    70,
	})
	ctx := context.Background()
	subject := uuid.New()
	recorded := time.Now().UTC().Add(-48 * time.Hour)
	testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionQuality, 90, recorded)
	testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionSoil, 70, recorded)

	first, err := fx.service.Assess(ctx, subject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("first assess: %v", err)
	}
	second, err := fx.service.Assess(ctx, subject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("second assess: %v", err)
	}

	if first.InputsHash != second.InputsHash {
		t.Fatalf("inputs hash changed on replay: %s vs %s", first.InputsHash, second.InputsHash)
	}
	if first.OverallScore != second.OverallScore {
		t.Fatalf("overall changed on replay: %v vs %v", first.OverallScore, second.OverallScore)
	}
	if first.ConfidencePct != second.ConfidencePct {
		t.Fatalf("confidence changed on replay: %v vs %v", first.ConfidencePct, second.ConfidencePct)
	}

	history, err := fx.service.History(ctx, subject)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2 (each assessment persists)", len(history))
	}
}

func TestAssessTimeDecayLowersOldEvidenceWeight(t *testing.T) {
	fx := newTrustFixture(t, map[string]float64{types.DimensionQuality: 80})
	ctx := context.Background()

	freshSubject := uuid.New()
	staleSubject := uuid.New()
	testutil.SeedEvidence(t, ctx, fx.db, freshSubject, types.DimensionQuality, 100, time.Now().UTC().Add(-time.Hour))
	testutil.SeedEvidence(t, ctx, fx.db, staleSubject, types.DimensionQuality, 100, time.Now().UTC().Add(-60*24*time.Hour))

	fresh, err := fx.service.Assess(ctx, freshSubject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("assess fresh: %v", err)
	}
	stale, err := fx.service.Assess(ctx, staleSubject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("assess stale: %v", err)
	}

	if !(stale.ConfidencePct < fresh.ConfidencePct) {
		t.Fatalf("60-day-old evidence should weigh less: stale=%v fresh=%v", stale.ConfidencePct, fresh.ConfidencePct)
	}
	if stale.ConfidencePct <= 0 {
		t.Fatal("decayed weight must stay above zero (decay floor)")
	}
}

func TestAssessConflictingDimensionsRaiseFlag(t *testing.T) {
	fx := newTrustFixture(t, map[string]float64{
		types.DimensionQuality:     95,
		types.DimensionTransaction: 10,
	})
	ctx := context.Background()
	subject := uuid.New()
	recorded := time.Now().UTC().Add(-time.Minute)
	testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionQuality, 90, recorded)
	testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionTransaction, 90, recorded)

	if _, err := fx.service.Assess(ctx, subject, types.SubjectTypeFarmer); err != nil {
		t.Fatalf("assess: %v", err)
	}

	flags, err := fx.fraudRepo.GetUnresolvedBySubjectID(ctx, nil, subject)
	if err != nil {
		t.Fatalf("load flags: %v", err)
	}
	var found bool
	for _, f := range flags {
		if f.Kind == types.FlagKindEvidenceConflict {
			found = true
			if f.Severity != types.SeverityMedium {
				t.Fatalf("conflict severity = %q, want medium", f.Severity)
			}
		}
	}
	if !found {
		t.Fatal("spread of 85 points should raise an evidence_conflict flag")
	}
}

func TestAssessScorerExhaustionDegrades(t *testing.T) {
	fx := newTrustFixture(t, map[string]float64{
		types.DimensionQuality: 80,
		types.DimensionSoil:    80,
	})
	fx.scorer.failDims[types.DimensionSoil] = true
	ctx := context.Background()
	subject := uuid.New()
	recorded := time.Now().UTC().Add(-time.Minute)
	testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionQuality, 100, recorded)
	soilItem := testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionSoil, 100, recorded)

	snap, err := fx.service.Assess(ctx, subject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("assess must degrade, not fail: %v", err)
	}
	if snap.OverallScore != 80 {
		t.Fatalf("overall = %v, want 80 from the surviving dimension", snap.OverallScore)
	}

	var dims map[string]float64
	if err := json.Unmarshal(snap.DimensionScores, &dims); err != nil {
		t.Fatalf("decode dimension scores: %v", err)
	}
	if _, ok := dims[types.DimensionSoil]; ok {
		t.Fatal("failed dimension must not appear in dimension scores")
	}

	items, err := fx.evidenceRepo.GetByIDs(ctx, nil, []uuid.UUID{soilItem.ID})
	if err != nil || len(items) != 1 {
		t.Fatalf("reload soil evidence: %v", err)
	}
	if items[0].ScoringStatus != types.EvidenceStatusScoringPending {
		t.Fatalf("scoring status = %q, want scoring_pending", items[0].ScoringStatus)
	}
}

func TestAssessCriticalFlagForcesReject(t *testing.T) {
	fx := newTrustFixture(t, map[string]float64{types.DimensionQuality: 90})
	ctx := context.Background()
	subject := uuid.New()
	testutil.SeedEvidence(t, ctx, fx.db, subject, types.DimensionQuality, 100, time.Now().UTC().Add(-time.Minute))
	testutil.SeedFraudFlag(t, ctx, fx.db, subject, types.SeverityCritical, types.FlagKindBehavioralAnomaly)

	snap, err := fx.service.Assess(ctx, subject, types.SubjectTypeFarmer)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if snap.Recommendation != types.RecommendationReject {
		t.Fatalf("recommendation = %q, want reject despite high score", snap.Recommendation)
	}
	if snap.OverallScore != 90 {
		t.Fatalf("flags gate the recommendation, not the score: overall = %v", snap.OverallScore)
	}
}
