package services

import (
	"encoding/json"
	"time"

	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/types"
)

// QualityResult is what one inspection yields. PriorResults feeds the
// freshness trend: rapid decline between consecutive inspections is penalized
// harder than steady decline.
type QualityResult struct {
	Grade                 string  `json:"grade"`
	QualityScore          float64 `json:"quality_score"`
	FreshnessScore        float64 `json:"freshness_score"`
	ContaminationDetected bool    `json:"contamination_detected"`
	Confidence            float64 `json:"confidence"`
}

// inspectionPayload is the structured part of a quality evidence payload the
// evaluator understands. Contamination is never inferred: only the explicit
// field counts.
type inspectionPayload struct {
	VisualScore           *float64 `json:"visual_score,omitempty"`
	FirmnessScore         *float64 `json:"firmness_score,omitempty"`
	DefectRatio           *float64 `json:"defect_ratio,omitempty"`
	ImageCount            int      `json:"image_count,omitempty"`
	SensorCoverage        *float64 `json:"sensor_coverage,omitempty"`
	ContaminationDetected bool     `json:"contamination_detected,omitempty"`
	Contaminant           string   `json:"contaminant,omitempty"`
}

type QualityService interface {
	// Evaluate is a pure function of the bundle, the batch's harvest date and
	// the prior quality results; `at` is injected for reproducibility.
	Evaluate(batch *types.Batch, bundle []*types.EvidenceItem, history []QualityResult, at time.Time) QualityResult
}

type qualityService struct {
	log *logger.Logger
	cfg config.QualityConfig
}

func NewQualityService(baseLog *logger.Logger, cfg config.QualityConfig) QualityService {
	serviceLog := baseLog.With("service", "QualityService")
	return &qualityService{log: serviceLog, cfg: cfg}
}

func (qs *qualityService) Evaluate(batch *types.Batch, bundle []*types.EvidenceItem, history []QualityResult, at time.Time) QualityResult {
	var (
		visualSum, visualN     float64
		firmnessSum, firmnessN float64
		defectMax              float64
		imageCount             int
		sensorCoverage         float64
		contaminated           bool
	)

	for _, item := range bundle {
		if item == nil || item.Dimension != types.DimensionQuality {
			continue
		}
		var p inspectionPayload
		if err := json.Unmarshal(item.Payload, &p); err != nil {
			qs.log.Warn("Unparseable inspection payload; skipping item", "evidence_id", item.ID, "error", err)
			continue
		}
		if p.VisualScore != nil {
			visualSum += clamp(*p.VisualScore, 0, 100)
			visualN++
		}
		if p.FirmnessScore != nil {
			firmnessSum += clamp(*p.FirmnessScore, 0, 100)
			firmnessN++
		}
		if p.DefectRatio != nil && *p.DefectRatio > defectMax {
			defectMax = clamp(*p.DefectRatio, 0, 1)
		}
		imageCount += p.ImageCount
		if p.SensorCoverage != nil && *p.SensorCoverage > sensorCoverage {
			sensorCoverage = clamp(*p.SensorCoverage, 0, 1)
		}
		if p.ContaminationDetected {
			contaminated = true
		}
	}

	quality := 50.0
	switch {
	case visualN > 0 && firmnessN > 0:
		quality = 0.6*(visualSum/visualN) + 0.4*(firmnessSum/firmnessN)
	case visualN > 0:
		quality = visualSum / visualN
	case firmnessN > 0:
		quality = firmnessSum / firmnessN
	}
	quality -= defectMax * 40
	quality = clamp(quality, 0, 100)

	if contaminated && quality >= qs.cfg.ContaminationCeiling {
		quality = qs.cfg.ContaminationCeiling - 1
		if quality < 0 {
			quality = 0
		}
	}

	freshness := qs.freshness(batch, quality, history, at)

	return QualityResult{
		Grade:                 GradeForScore(quality),
		QualityScore:          quality,
		FreshnessScore:        freshness,
		ContaminationDetected: contaminated,
		Confidence:            qs.confidence(imageCount, sensorCoverage),
	}
}

// freshness starts from the age penalty and steepens with the decline rate
// between consecutive inspections; accelerating decline gets an extra term.
func (qs *qualityService) freshness(batch *types.Batch, quality float64, history []QualityResult, at time.Time) float64 {
	daysSinceHarvest := at.Sub(batch.HarvestDate).Hours() / 24
	if daysSinceHarvest < 0 {
		daysSinceHarvest = 0
	}
	freshness := 100 - qs.cfg.FreshnessDailyPenalty*daysSinceHarvest

	if len(history) > 0 {
		latestDecline := history[len(history)-1].QualityScore - quality
		if latestDecline > 0 {
			freshness -= latestDecline * qs.cfg.DeclineFactor
			if len(history) > 1 {
				priorDecline := history[len(history)-2].QualityScore - history[len(history)-1].QualityScore
				if latestDecline > priorDecline {
					freshness -= (latestDecline - priorDecline) * qs.cfg.AccelFactor
				}
			}
		}
	}
	return clamp(freshness, 0, 100)
}

// confidence reflects evidence completeness only; a sparse bundle stays
// low-confidence and the aggregator down-weights it accordingly.
func (qs *qualityService) confidence(imageCount int, sensorCoverage float64) float64 {
	full := qs.cfg.FullImageCount
	if full <= 0 {
		full = 1
	}
	imageShare := float64(imageCount) / float64(full)
	if imageShare > 1 {
		imageShare = 1
	}
	return clamp(0.5*imageShare+0.5*sensorCoverage, 0, 1)
}

func GradeForScore(score float64) string {
	switch {
	case score >= 85:
		return "A"
	case score >= 70:
		return "B"
	case score >= 55:
		return "C"
	case score >= 40:
		return "D"
	default:
		return "E"
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
