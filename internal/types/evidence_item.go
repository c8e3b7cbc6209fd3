package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// EvidenceItem is immutable once created; the only sanctioned mutations are
// the superseded-by pointer and the scoring status used by the aggregator.
type EvidenceItem struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"subject_id"`
	SubjectType    string         `gorm:"column:subject_type;not null" json:"subject_type"`
	Dimension      string         `gorm:"column:dimension;not null;index" json:"dimension"`
	Payload        datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Confidence     *float64       `gorm:"column:confidence" json:"confidence,omitempty"`
	SourceID       string         `gorm:"column:source_id" json:"source_id"`
	RecordedAt     time.Time      `gorm:"column:recorded_at;not null;index" json:"recorded_at"`
	SupersededByID *uuid.UUID     `gorm:"type:uuid;column:superseded_by_id;index" json:"superseded_by_id,omitempty"`
	ScoringStatus  string         `gorm:"column:scoring_status;not null;default:'ready'" json:"scoring_status"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (EvidenceItem) TableName() string { return "evidence_item" }
