package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

// SnapshotCache keeps the latest trust snapshot per subject hot. It is an
// optional layer: a nil *SnapshotCache is safe to call and does nothing, and
// reads always fall back to the database on miss.
type SnapshotCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewSnapshotCache returns (nil, nil) when REDIS_ADDR is unset.
func NewSnapshotCache(log *logger.Logger) (*SnapshotCache, error) {
	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &SnapshotCache{
		log: log.With("client", "SnapshotCache"),
		rdb: rdb,
		ttl: time.Hour,
	}, nil
}

func snapshotKey(subjectID uuid.UUID) string {
	return "trust:latest:" + subjectID.String()
}

func (c *SnapshotCache) SetLatest(ctx context.Context, snap *types.TrustScoreSnapshot) {
	if c == nil || c.rdb == nil || snap == nil {
		return
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, snapshotKey(snap.SubjectID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("Snapshot cache write failed", "error", err, "subject_id", snap.SubjectID)
	}
}

func (c *SnapshotCache) GetLatest(ctx context.Context, subjectID uuid.UUID) *types.TrustScoreSnapshot {
	if c == nil || c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, snapshotKey(subjectID)).Bytes()
	if err != nil {
		return nil
	}
	var snap types.TrustScoreSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil
	}
	return &snap
}

func (c *SnapshotCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
