package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// TrustScoreSnapshot is immutable; every assessment inserts a new row so the
// timeline stays queryable and replayable via InputsHash.
type TrustScoreSnapshot struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SubjectID       uuid.UUID      `gorm:"type:uuid;not null;index" json:"subject_id"`
	SubjectType     string         `gorm:"column:subject_type;not null" json:"subject_type"`
	OverallScore    float64        `gorm:"column:overall_score;not null" json:"overall_score"`
	DimensionScores datatypes.JSON `gorm:"type:jsonb;column:dimension_scores" json:"dimension_scores"`
	RiskLevel       string         `gorm:"column:risk_level;not null" json:"risk_level"`
	Recommendation  string         `gorm:"column:recommendation;not null" json:"recommendation"`
	ConfidencePct   float64        `gorm:"column:confidence_pct;not null" json:"confidence_pct"`
	InputsHash      string         `gorm:"column:inputs_hash;not null" json:"inputs_hash"`
	ComputedAt      time.Time      `gorm:"column:computed_at;not null;index" json:"computed_at"`
	CreatedAt       time.Time      `gorm:"not null;default:now()" json:"created_at"`
}

func (TrustScoreSnapshot) TableName() string { return "trust_snapshot" }
