package types

import (
	"time"

	"github.com/google/uuid"
)

// BehaviorWindow stores the per-window feature summary, never raw keystrokes.
type BehaviorWindow struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID           uuid.UUID `gorm:"type:uuid;not null;index" json:"session_id"`
	SubjectID           uuid.UUID `gorm:"type:uuid;not null;index" json:"subject_id"`
	WindowStart         time.Time `gorm:"column:window_start;not null" json:"window_start"`
	WindowEnd           time.Time `gorm:"column:window_end;not null" json:"window_end"`
	EventCount          int       `gorm:"column:event_count;not null" json:"event_count"`
	TypingRate          float64   `gorm:"column:typing_rate;not null" json:"typing_rate"`
	MeanKeyHoldMs       float64   `gorm:"column:mean_key_hold_ms;not null" json:"mean_key_hold_ms"`
	MeanPointerVelocity float64   `gorm:"column:mean_pointer_velocity;not null" json:"mean_pointer_velocity"`
	ActivityDensity     float64   `gorm:"column:activity_density;not null" json:"activity_density"`
	RiskScore           float64   `gorm:"column:risk_score;not null" json:"risk_score"`
	Flagged             bool      `gorm:"column:flagged;not null;default:false" json:"flagged"`
	CreatedAt           time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (BehaviorWindow) TableName() string { return "behavior_window" }
