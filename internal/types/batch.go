package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Batch struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	OwnerID             uuid.UUID      `gorm:"type:uuid;not null;index" json:"owner_id"`
	CropRef             string         `gorm:"column:crop_ref;not null" json:"crop_ref"`
	QuantityKg          float64        `gorm:"column:quantity_kg;not null" json:"quantity_kg"`
	HarvestDate         time.Time      `gorm:"column:harvest_date;not null" json:"harvest_date"`
	Status              string         `gorm:"column:status;not null;default:'harvested';index" json:"status"`
	QualityGradeInitial string         `gorm:"column:quality_grade_initial" json:"quality_grade_initial"`
	CurrentQualityGrade string         `gorm:"column:current_quality_grade" json:"current_quality_grade"`
	SpoilageRiskScore   float64        `gorm:"column:spoilage_risk_score;not null;default:0" json:"spoilage_risk_score"`
	Destination         string         `gorm:"column:destination" json:"destination"`
	LedgerAnchorRef     *string        `gorm:"column:ledger_anchor_ref" json:"ledger_anchor_ref,omitempty"`
	CreatedAt           time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt           time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Batch) TableName() string { return "batch" }
