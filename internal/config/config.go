package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/agritrust/agritrust-backend/internal/logger"
)

// Config holds every scoring/threshold tunable. Defaults are baked in so the
// service boots without a file; a YAML file (AGRITRUST_CONFIG) overrides them.
type Config struct {
	Quality  QualityConfig  `yaml:"quality"`
	Spoilage SpoilageConfig `yaml:"spoilage"`
	Trust    TrustConfig    `yaml:"trust"`
	Behavior BehaviorConfig `yaml:"behavior"`
	Anchor   AnchorConfig   `yaml:"anchor"`
}

type QualityConfig struct {
	// Minimum quality score required for quality_check -> delivered.
	MinAcceptScore float64 `yaml:"min_accept_score"`
	// Contaminated produce is clipped below this score regardless of other inputs.
	ContaminationCeiling float64 `yaml:"contamination_ceiling"`
	// Freshness penalty per day since harvest.
	FreshnessDailyPenalty float64 `yaml:"freshness_daily_penalty"`
	// Penalty multiplier on the latest quality decline.
	DeclineFactor float64 `yaml:"decline_factor"`
	// Extra multiplier when decline is accelerating between checkpoints.
	AccelFactor float64 `yaml:"accel_factor"`
	// Image count considered full photographic coverage.
	FullImageCount int `yaml:"full_image_count"`
}

type SpoilageConfig struct {
	ElapsedPerHour  float64 `yaml:"elapsed_per_hour"`
	TransitPerHour  float64 `yaml:"transit_per_hour"`
	FreshnessWeight float64 `yaml:"freshness_weight"`
}

type TrustConfig struct {
	HalfLifeDays  float64 `yaml:"half_life_days"`
	DecayFloor    float64 `yaml:"decay_floor"`
	RiskLowMin    float64 `yaml:"risk_low_min"`
	RiskMediumMin float64 `yaml:"risk_medium_min"`
	RiskHighMin   float64 `yaml:"risk_high_min"`
	// Dimension score spread beyond which an evidence_conflict flag is raised.
	ConflictSpread float64 `yaml:"conflict_spread"`
	ScorerRetries  int     `yaml:"scorer_retries"`
	// Confidence assumed for evidence recorded without one (0-100).
	DefaultEvidenceConfidence float64 `yaml:"default_evidence_confidence"`
}

type BehaviorConfig struct {
	WindowSeconds      int     `yaml:"window_seconds"`
	TypingRateMin      float64 `yaml:"typing_rate_min"`
	TypingRateMax      float64 `yaml:"typing_rate_max"`
	KeyHoldMinMs       float64 `yaml:"key_hold_min_ms"`
	KeyHoldMaxMs       float64 `yaml:"key_hold_max_ms"`
	PointerVelocityMin float64 `yaml:"pointer_velocity_min"`
	PointerVelocityMax float64 `yaml:"pointer_velocity_max"`
	ActivityDensityMin float64 `yaml:"activity_density_min"`
	ActivityDensityMax float64 `yaml:"activity_density_max"`
	RulePenalty        float64 `yaml:"rule_penalty"`
	FlagThreshold      float64 `yaml:"flag_threshold"`
}

type AnchorConfig struct {
	MaxAttempts  int `yaml:"max_attempts"`
	BackoffMs    int `yaml:"backoff_ms"`
	BackoffMaxMs int `yaml:"backoff_max_ms"`
	QueueSize    int `yaml:"queue_size"`
}

func Default() Config {
	return Config{
		Quality: QualityConfig{
			MinAcceptScore:        60,
			ContaminationCeiling:  30,
			FreshnessDailyPenalty: 2.5,
			DeclineFactor:         0.8,
			AccelFactor:           1.5,
			FullImageCount:        4,
		},
		Spoilage: SpoilageConfig{
			ElapsedPerHour:  0.25,
			TransitPerHour:  0.2,
			FreshnessWeight: 0.4,
		},
		Trust: TrustConfig{
			HalfLifeDays:              30,
			DecayFloor:                0.05,
			RiskLowMin:                75,
			RiskMediumMin:             50,
			RiskHighMin:               25,
			ConflictSpread:            60,
			ScorerRetries:             3,
			DefaultEvidenceConfidence: 60,
		},
		Behavior: BehaviorConfig{
			WindowSeconds:      30,
			TypingRateMin:      20,
			TypingRateMax:      100,
			KeyHoldMinMs:       40,
			KeyHoldMaxMs:       400,
			PointerVelocityMin: 50,
			PointerVelocityMax: 1000,
			ActivityDensityMin: 0.05,
			ActivityDensityMax: 0.9,
			RulePenalty:        40,
			FlagThreshold:      70,
		},
		Anchor: AnchorConfig{
			MaxAttempts:  5,
			BackoffMs:    500,
			BackoffMaxMs: 30000,
			QueueSize:    256,
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path falls
// back to AGRITRUST_CONFIG; no file at all means pure defaults.
func Load(path string, log *logger.Logger) (Config, error) {
	cfg := Default()
	if path == "" {
		path = strings.TrimSpace(os.Getenv("AGRITRUST_CONFIG"))
	}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if log != nil {
		log.Info("Loaded scoring config", "path", path)
	}
	return cfg, nil
}
