package repos

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/agritrust/agritrust-backend/internal/repos/testutil"
	"github.com/agritrust/agritrust-backend/internal/types"
)

func TestGetActiveBySubjectFilters(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEvidenceRepo(db, testutil.Logger(t))
	ctx := context.Background()
	subject := uuid.New()
	now := time.Now().UTC()

	old := testutil.SeedEvidence(t, ctx, db, subject, types.DimensionSoil, 80, now.Add(-2*time.Hour))
	current := testutil.SeedEvidence(t, ctx, db, subject, types.DimensionSoil, 80, now.Add(-time.Hour))
	// Recorded after the cutoff: must not leak into the assessment.
	testutil.SeedEvidence(t, ctx, db, subject, types.DimensionSoil, 80, now.Add(time.Hour))
	// Another subject entirely.
	testutil.SeedEvidence(t, ctx, db, uuid.New(), types.DimensionSoil, 80, now.Add(-time.Hour))

	if err := repo.Supersede(ctx, nil, old.ID, current.ID); err != nil {
		t.Fatalf("supersede: %v", err)
	}

	active, err := repo.GetActiveBySubject(ctx, nil, subject, now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active items = %d, want 1", len(active))
	}
	if active[0].ID != current.ID {
		t.Fatal("wrong item survived the filters")
	}
}

func TestGetActiveBySubjectOrdersByRecordedAt(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEvidenceRepo(db, testutil.Logger(t))
	ctx := context.Background()
	subject := uuid.New()
	now := time.Now().UTC()

	second := testutil.SeedEvidence(t, ctx, db, subject, types.DimensionSoil, 80, now.Add(-time.Hour))
	first := testutil.SeedEvidence(t, ctx, db, subject, types.DimensionWeather, 80, now.Add(-3*time.Hour))

	active, err := repo.GetActiveBySubject(ctx, nil, subject, now)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active items = %d, want 2", len(active))
	}
	if active[0].ID != first.ID || active[1].ID != second.ID {
		t.Fatal("items not in recorded_at order")
	}
}

func TestSetScoringStatus(t *testing.T) {
	db := testutil.DB(t)
	repo := NewEvidenceRepo(db, testutil.Logger(t))
	ctx := context.Background()
	subject := uuid.New()
	now := time.Now().UTC()

	a := testutil.SeedEvidence(t, ctx, db, subject, types.DimensionSoil, 80, now.Add(-time.Hour))
	b := testutil.SeedEvidence(t, ctx, db, subject, types.DimensionSoil, 80, now.Add(-time.Hour))

	if err := repo.SetScoringStatus(ctx, nil, []uuid.UUID{a.ID, b.ID}, types.EvidenceStatusScoringPending); err != nil {
		t.Fatalf("set status: %v", err)
	}

	items, err := repo.GetByIDs(ctx, nil, []uuid.UUID{a.ID, b.ID})
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	for _, item := range items {
		if item.ScoringStatus != types.EvidenceStatusScoringPending {
			t.Fatalf("status = %q, want scoring_pending", item.ScoringStatus)
		}
	}
}
