package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Checkpoint rows are append-only and strictly ordered per batch by
// SequenceNo; the composite unique index makes concurrent appends collide
// instead of reordering.
type Checkpoint struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	BatchID         uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_checkpoint_batch_seq" json:"batch_id"`
	Batch           *Batch         `gorm:"constraint:OnDelete:CASCADE;foreignKey:BatchID;references:ID" json:"batch,omitempty"`
	SequenceNo      int            `gorm:"column:sequence_no;not null;uniqueIndex:idx_checkpoint_batch_seq" json:"sequence_no"`
	CheckpointType  string         `gorm:"column:checkpoint_type;not null" json:"checkpoint_type"`
	EvidenceRefs    datatypes.JSON `gorm:"type:jsonb;column:evidence_refs" json:"evidence_refs"`
	ResultingStatus string         `gorm:"column:resulting_status;not null" json:"resulting_status"`
	QualityScore    *float64       `gorm:"column:quality_score" json:"quality_score,omitempty"`
	FreshnessScore  *float64       `gorm:"column:freshness_score" json:"freshness_score,omitempty"`
	Grade           *string        `gorm:"column:grade" json:"grade,omitempty"`
	ContentHash     string         `gorm:"column:content_hash;not null" json:"content_hash"`
	AnchorStatus    string         `gorm:"column:anchor_status;not null;default:'pending'" json:"anchor_status"`
	AnchorTxRef     *string        `gorm:"column:anchor_tx_ref" json:"anchor_tx_ref,omitempty"`
	AnchorWarning   string         `gorm:"column:anchor_warning" json:"anchor_warning,omitempty"`
	RecordedAt      time.Time      `gorm:"column:recorded_at;not null" json:"recorded_at"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Checkpoint) TableName() string { return "checkpoint" }
