package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FraudFlag is never deleted; reviewers acknowledge it, and it only ever
// influences snapshots computed after its creation.
type FraudFlag struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID           uuid.UUID      `gorm:"type:uuid;not null;index" json:"subject_id"`
	SubjectType         string         `gorm:"column:subject_type;not null" json:"subject_type"`
	Severity            string         `gorm:"column:severity;not null" json:"severity"`
	Kind                string         `gorm:"column:kind;not null" json:"kind"`
	Confidence          float64        `gorm:"column:confidence;not null" json:"confidence"`
	RelatedEvidenceRefs datatypes.JSON `gorm:"type:jsonb;column:related_evidence_refs" json:"related_evidence_refs"`
	Acknowledged        bool           `gorm:"column:acknowledged;not null;default:false;index" json:"acknowledged"`
	AcknowledgedAt      *time.Time     `gorm:"column:acknowledged_at" json:"acknowledged_at,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (FraudFlag) TableName() string { return "fraud_flag" }
