package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/agritrust/agritrust-backend/internal/apierr"
	"github.com/agritrust/agritrust-backend/internal/config"
	"github.com/agritrust/agritrust-backend/internal/logger"
	"github.com/agritrust/agritrust-backend/internal/repos"
	"github.com/agritrust/agritrust-backend/internal/types"
)

const (
	EventKeyDown      = "key_down"
	EventKeyUp        = "key_up"
	EventPointerMove  = "pointer_move"
	EventPointerClick = "pointer_click"
)

// BehaviorEvent is one raw telemetry event. Raw events live only in memory
// for the duration of their window; only feature summaries are persisted.
type BehaviorEvent struct {
	Type       string    `json:"type"`
	Key        string    `json:"key,omitempty"`
	X          float64   `json:"x,omitempty"`
	Y          float64   `json:"y,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

type BehaviorService interface {
	Ingest(ctx context.Context, sessionID, subjectID uuid.UUID, events []BehaviorEvent) error
	// EndSession flushes the open window and closes the session. Flushing is
	// at-most-once even when the window timer races the explicit end.
	EndSession(ctx context.Context, sessionID uuid.UUID) error
	Windows(ctx context.Context, sessionID uuid.UUID) ([]*types.BehaviorWindow, error)
}

type behaviorService struct {
	db           *gorm.DB
	log          *logger.Logger
	cfg          config.BehaviorConfig
	windowRepo   repos.BehaviorWindowRepo
	fraudRepo    repos.FraudFlagRepo
	evidenceRepo repos.EvidenceRepo

	mu       sync.Mutex
	sessions map[uuid.UUID]*behaviorSession
}

type behaviorSession struct {
	mu          sync.Mutex
	subjectID   uuid.UUID
	windowStart time.Time
	events      []BehaviorEvent
	timer       *time.Timer
	closed      bool
}

func NewBehaviorService(
	db *gorm.DB,
	baseLog *logger.Logger,
	cfg config.BehaviorConfig,
	windowRepo repos.BehaviorWindowRepo,
	fraudRepo repos.FraudFlagRepo,
	evidenceRepo repos.EvidenceRepo,
) BehaviorService {
	serviceLog := baseLog.With("service", "BehaviorService")
	return &behaviorService{
		db:           db,
		log:          serviceLog,
		cfg:          cfg,
		windowRepo:   windowRepo,
		fraudRepo:    fraudRepo,
		evidenceRepo: evidenceRepo,
		sessions:     map[uuid.UUID]*behaviorSession{},
	}
}

func (bs *behaviorService) windowDuration() time.Duration {
	secs := bs.cfg.WindowSeconds
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}

func (bs *behaviorService) Ingest(ctx context.Context, sessionID, subjectID uuid.UUID, events []BehaviorEvent) error {
	if sessionID == uuid.Nil || subjectID == uuid.Nil {
		return apierr.BadRequest(fmt.Errorf("missing session_id or subject_id"))
	}
	for _, ev := range events {
		switch ev.Type {
		case EventKeyDown, EventKeyUp, EventPointerMove, EventPointerClick:
		default:
			return apierr.BadRequest(fmt.Errorf("unknown event type %q", ev.Type))
		}
	}

	session := bs.sessionFor(sessionID, subjectID)

	session.mu.Lock()
	defer session.mu.Unlock()
	if session.closed {
		return apierr.BadRequest(fmt.Errorf("session %s already ended", sessionID))
	}
	session.events = append(session.events, events...)
	return nil
}

func (bs *behaviorService) sessionFor(sessionID, subjectID uuid.UUID) *behaviorSession {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if existing, ok := bs.sessions[sessionID]; ok {
		return existing
	}
	session := &behaviorSession{
		subjectID:   subjectID,
		windowStart: time.Now().UTC(),
	}
	session.timer = time.AfterFunc(bs.windowDuration(), func() {
		bs.rotate(sessionID, session)
	})
	bs.sessions[sessionID] = session
	return session
}

// rotate flushes the expired window and opens the next one for the same
// session. Sessions stay live across empty windows.
func (bs *behaviorService) rotate(sessionID uuid.UUID, session *behaviorSession) {
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return
	}
	events := session.events
	start := session.windowStart
	end := time.Now().UTC()
	session.events = nil
	session.windowStart = end
	session.timer.Reset(bs.windowDuration())
	session.mu.Unlock()

	bs.flushWindow(context.Background(), sessionID, session.subjectID, start, end, events)
}

func (bs *behaviorService) EndSession(ctx context.Context, sessionID uuid.UUID) error {
	bs.mu.Lock()
	session, ok := bs.sessions[sessionID]
	if ok {
		delete(bs.sessions, sessionID)
	}
	bs.mu.Unlock()
	if !ok {
		return apierr.NotFound("session")
	}

	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return nil
	}
	session.closed = true
	session.timer.Stop()
	events := session.events
	start := session.windowStart
	session.events = nil
	session.mu.Unlock()

	bs.flushWindow(ctx, sessionID, session.subjectID, start, time.Now().UTC(), events)
	return nil
}

func (bs *behaviorService) Windows(ctx context.Context, sessionID uuid.UUID) ([]*types.BehaviorWindow, error) {
	return bs.windowRepo.GetBySessionID(ctx, nil, sessionID)
}

func (bs *behaviorService) flushWindow(ctx context.Context, sessionID, subjectID uuid.UUID, start, end time.Time, events []BehaviorEvent) {
	if len(events) == 0 {
		return
	}

	features := computeFeatures(events, end.Sub(start))
	riskScore := bs.scoreFeatures(features)
	flagged := riskScore >= bs.cfg.FlagThreshold

	window := &types.BehaviorWindow{
		ID:                  uuid.New(),
		SessionID:           sessionID,
		SubjectID:           subjectID,
		WindowStart:         start,
		WindowEnd:           end,
		EventCount:          len(events),
		TypingRate:          features.typingRate,
		MeanKeyHoldMs:       features.meanKeyHoldMs,
		MeanPointerVelocity: features.meanPointerVelocity,
		ActivityDensity:     features.activityDensity,
		RiskScore:           riskScore,
		Flagged:             flagged,
		CreatedAt:           time.Now().UTC(),
	}
	if _, err := bs.windowRepo.Create(ctx, nil, window); err != nil {
		bs.log.Error("Persist behavior window failed", "error", err, "session_id", sessionID)
		return
	}

	evidenceID := bs.recordWindowEvidence(ctx, subjectID, window)

	if flagged {
		bs.recordAnomalyFlag(ctx, subjectID, window, evidenceID)
	}
}

// recordWindowEvidence feeds the window summary into the behavioral trust
// dimension so sustained anomalies erode the overall score.
func (bs *behaviorService) recordWindowEvidence(ctx context.Context, subjectID uuid.UUID, window *types.BehaviorWindow) uuid.UUID {
	payload, _ := json.Marshal(map[string]any{
		"session_id":            window.SessionID,
		"window_start":          window.WindowStart,
		"window_end":            window.WindowEnd,
		"event_count":           window.EventCount,
		"typing_rate":           window.TypingRate,
		"mean_key_hold_ms":      window.MeanKeyHoldMs,
		"mean_pointer_velocity": window.MeanPointerVelocity,
		"activity_density":      window.ActivityDensity,
		"risk_score":            window.RiskScore,
		"flagged":               window.Flagged,
	})

	now := time.Now().UTC()
	item := &types.EvidenceItem{
		ID:            uuid.New(),
		SubjectID:     subjectID,
		SubjectType:   types.SubjectTypeFarmer,
		Dimension:     types.DimensionBehavioral,
		Payload:       datatypes.JSON(payload),
		SourceID:      "behavior-detector",
		RecordedAt:    window.WindowEnd,
		ScoringStatus: types.EvidenceStatusReady,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := bs.evidenceRepo.Create(ctx, nil, []*types.EvidenceItem{item}); err != nil {
		bs.log.Error("Record behavioral evidence failed", "error", err, "session_id", window.SessionID)
		return uuid.Nil
	}
	return item.ID
}

func (bs *behaviorService) recordAnomalyFlag(ctx context.Context, subjectID uuid.UUID, window *types.BehaviorWindow, evidenceID uuid.UUID) {
	var refs []uuid.UUID
	if evidenceID != uuid.Nil {
		refs = append(refs, evidenceID)
	}
	refsJSON, _ := json.Marshal(refs)

	flag := &types.FraudFlag{
		ID:                  uuid.New(),
		SubjectID:           subjectID,
		SubjectType:         types.SubjectTypeFarmer,
		Severity:            types.SeverityHigh,
		Kind:                types.FlagKindBehavioralAnomaly,
		Confidence:          math.Min(window.RiskScore/100, 1),
		RelatedEvidenceRefs: datatypes.JSON(refsJSON),
	}
	if _, err := bs.fraudRepo.Create(ctx, nil, []*types.FraudFlag{flag}); err != nil {
		bs.log.Error("Record behavioral_anomaly flag failed", "error", err, "session_id", window.SessionID)
		return
	}
	bs.log.Warn("Behavioral anomaly flagged",
		"session_id", window.SessionID,
		"subject_id", subjectID,
		"risk_score", window.RiskScore,
	)
}

type behaviorFeatures struct {
	typingRate          float64 // key presses per minute
	hasTyping           bool
	meanKeyHoldMs       float64
	hasKeyHold          bool
	meanPointerVelocity float64 // px/s
	hasPointer          bool
	activityDensity     float64 // share of 1s buckets with activity
}

// computeFeatures derives the window summary from raw events. Key holds pair
// each key_up with the earliest unmatched key_down for the same key; pointer
// velocity averages over consecutive pointer samples.
func computeFeatures(events []BehaviorEvent, windowLen time.Duration) behaviorFeatures {
	var f behaviorFeatures
	if windowLen <= 0 {
		windowLen = time.Second
	}

	var (
		keyDowns    int
		pendingDown = map[string][]time.Time{}
		holdSum     float64
		holdN       int

		lastPointer   *BehaviorEvent
		velocitySum   float64
		velocityN     int
		activeBuckets = map[int64]struct{}{}
		windowStart   time.Time
	)
	for _, ev := range events {
		if windowStart.IsZero() || ev.OccurredAt.Before(windowStart) {
			windowStart = ev.OccurredAt
		}
	}

	for i := range events {
		ev := events[i]
		activeBuckets[int64(ev.OccurredAt.Sub(windowStart)/time.Second)] = struct{}{}

		switch ev.Type {
		case EventKeyDown:
			keyDowns++
			pendingDown[ev.Key] = append(pendingDown[ev.Key], ev.OccurredAt)
		case EventKeyUp:
			if downs := pendingDown[ev.Key]; len(downs) > 0 {
				hold := ev.OccurredAt.Sub(downs[0])
				pendingDown[ev.Key] = downs[1:]
				if hold >= 0 {
					holdSum += float64(hold.Milliseconds())
					holdN++
				}
			}
		case EventPointerMove, EventPointerClick:
			if lastPointer != nil {
				dt := ev.OccurredAt.Sub(lastPointer.OccurredAt).Seconds()
				if dt > 0 {
					dist := math.Hypot(ev.X-lastPointer.X, ev.Y-lastPointer.Y)
					velocitySum += dist / dt
					velocityN++
				}
			}
			lastPointer = &events[i]
		}
	}

	if keyDowns > 0 {
		f.typingRate = float64(keyDowns) / windowLen.Minutes()
		f.hasTyping = true
	}
	if holdN > 0 {
		f.meanKeyHoldMs = holdSum / float64(holdN)
		f.hasKeyHold = true
	}
	if velocityN > 0 {
		f.meanPointerVelocity = velocitySum / float64(velocityN)
		f.hasPointer = true
	}
	if len(events) > 0 {
		buckets := windowLen.Seconds()
		if buckets < 1 {
			buckets = 1
		}
		f.activityDensity = float64(len(activeBuckets)) / buckets
		if f.activityDensity > 1 {
			f.activityDensity = 1
		}
	}
	return f
}

// scoreFeatures adds a fixed penalty per violated rule. Features without
// samples in the window contribute nothing, so sparse telemetry is not
// punished for what it did not observe.
func (bs *behaviorService) scoreFeatures(f behaviorFeatures) float64 {
	var score float64
	if f.hasTyping && outOfRange(f.typingRate, bs.cfg.TypingRateMin, bs.cfg.TypingRateMax) {
		score += bs.cfg.RulePenalty
	}
	if f.hasKeyHold && outOfRange(f.meanKeyHoldMs, bs.cfg.KeyHoldMinMs, bs.cfg.KeyHoldMaxMs) {
		score += bs.cfg.RulePenalty
	}
	if f.hasPointer && outOfRange(f.meanPointerVelocity, bs.cfg.PointerVelocityMin, bs.cfg.PointerVelocityMax) {
		score += bs.cfg.RulePenalty
	}
	if outOfRange(f.activityDensity, bs.cfg.ActivityDensityMin, bs.cfg.ActivityDensityMax) {
		score += bs.cfg.RulePenalty
	}
	return clamp(score, 0, 100)
}

func outOfRange(v, lo, hi float64) bool {
	return v < lo || v > hi
}
