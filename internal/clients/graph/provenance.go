package graph

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

// Client mirrors the supply-chain provenance trail into neo4j so marketplace
// consumers can walk farmer -> batch -> checkpoint. Writes are best-effort;
// postgres stays the source of truth. A nil *Client is safe to call.
type Client struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logger.Logger
}

// NewFromEnv returns (nil, nil) when NEO4J_URI is unset.
func NewFromEnv(log *logger.Logger) (*Client, error) {
	uri := strings.TrimSpace(os.Getenv("NEO4J_URI"))
	if uri == "" {
		return nil, nil
	}

	user := strings.TrimSpace(os.Getenv("NEO4J_USER"))
	if user == "" {
		user = "neo4j"
	}
	password := strings.TrimSpace(os.Getenv("NEO4J_PASSWORD"))
	database := strings.TrimSpace(os.Getenv("NEO4J_DATABASE"))

	timeoutSec := 10
	if v := strings.TrimSpace(os.Getenv("NEO4J_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""), func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = time.Duration(timeoutSec) * time.Second
	})
	if err != nil {
		return nil, fmt.Errorf("graph: init driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: verify connectivity: %w", err)
	}

	return &Client{
		driver:   driver,
		database: database,
		log:      log.With("client", "ProvenanceGraph"),
	}, nil
}

// SyncCheckpoint upserts the farmer/batch nodes and appends the checkpoint
// node with its ordering edge.
func (c *Client) SyncCheckpoint(ctx context.Context, batch *types.Batch, cp *types.Checkpoint) {
	if c == nil || c.driver == nil || batch == nil || cp == nil {
		return
	}

	session := c.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.database})
	defer session.Close(ctx)

	cypher := `
		MERGE (f:Farmer {id: $farmer_id})
		MERGE (b:Batch {id: $batch_id})
		SET b.crop_ref = $crop_ref,
		    b.status = $status,
		    b.spoilage_risk = $spoilage_risk,
		    b.synced_at = $synced_at
		MERGE (f)-[:OWNS]->(b)
		MERGE (cp:Checkpoint {id: $checkpoint_id})
		SET cp.sequence_no = $sequence_no,
		    cp.checkpoint_type = $checkpoint_type,
		    cp.resulting_status = $resulting_status,
		    cp.content_hash = $content_hash,
		    cp.recorded_at = $recorded_at
		MERGE (b)-[:AT]->(cp)
	`
	params := map[string]any{
		"farmer_id":        batch.OwnerID.String(),
		"batch_id":         batch.ID.String(),
		"crop_ref":         batch.CropRef,
		"status":           cp.ResultingStatus,
		"spoilage_risk":    batch.SpoilageRiskScore,
		"synced_at":        time.Now().UTC().Format(time.RFC3339Nano),
		"checkpoint_id":    cp.ID.String(),
		"sequence_no":      int64(cp.SequenceNo),
		"checkpoint_type":  cp.CheckpointType,
		"resulting_status": cp.ResultingStatus,
		"content_hash":     cp.ContentHash,
		"recorded_at":      cp.RecordedAt.UTC().Format(time.RFC3339Nano),
	}

	if _, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, cypher, params)
		return nil, err
	}); err != nil {
		c.log.Warn("Provenance graph sync failed", "error", err, "batch_id", batch.ID, "checkpoint_id", cp.ID)
	}
}

func (c *Client) Close(ctx context.Context) {
	if c == nil || c.driver == nil {
		return
	}
	_ = c.driver.Close(ctx)
}
