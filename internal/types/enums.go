package types

const (
	SubjectTypeFarmer = "farmer"
	SubjectTypeBatch  = "batch"
)

const (
	DimensionSatellite   = "satellite"
	DimensionWeather     = "weather"
	DimensionSoil        = "soil"
	DimensionTransaction = "transaction"
	DimensionSocial      = "social"
	DimensionBehavioral  = "behavioral"
	DimensionQuality     = "quality"
)

// AllDimensions is the closed set of evidence dimensions the aggregator
// knows about; coverage confidence is measured against it.
var AllDimensions = []string{
	DimensionSatellite,
	DimensionWeather,
	DimensionSoil,
	DimensionTransaction,
	DimensionSocial,
	DimensionBehavioral,
	DimensionQuality,
}

func ValidDimension(d string) bool {
	for _, known := range AllDimensions {
		if d == known {
			return true
		}
	}
	return false
}

const (
	BatchStatusHarvested    = "harvested"
	BatchStatusInTransit    = "in_transit"
	BatchStatusQualityCheck = "quality_check"
	BatchStatusDelivered    = "delivered"
	BatchStatusRejected     = "rejected"
)

func ValidBatchStatus(s string) bool {
	switch s {
	case BatchStatusHarvested, BatchStatusInTransit, BatchStatusQualityCheck,
		BatchStatusDelivered, BatchStatusRejected:
		return true
	}
	return false
}

func TerminalStatus(s string) bool {
	return s == BatchStatusDelivered || s == BatchStatusRejected
}

const (
	CheckpointTypeHarvest           = "harvest"
	CheckpointTypeTransitStart      = "transit_start"
	CheckpointTypeInspectionArrival = "inspection_arrival"
	CheckpointTypeQualityCheck      = "quality_check"
	CheckpointTypeDelivery          = "delivery"
	CheckpointTypeRejection         = "rejection"
)

const (
	AnchorStatusPending  = "pending"
	AnchorStatusAnchored = "anchored"
	AnchorStatusFailed   = "failed"
)

const (
	EvidenceStatusReady          = "ready"
	EvidenceStatusScoringPending = "scoring_pending"
)

const (
	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelVeryHigh = "very_high"
)

const (
	RecommendationApprove = "approve"
	RecommendationReview  = "review"
	RecommendationReject  = "reject"
)

const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

const (
	FlagKindBehavioralAnomaly = "behavioral_anomaly"
	FlagKindEvidenceConflict  = "evidence_conflict"
	FlagKindContamination     = "contamination"
)
