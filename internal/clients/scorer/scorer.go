package scorer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Bundle is the evidence handed to the external scorer for one dimension.
// Payloads go through verbatim; the scorer contract is provider-agnostic.
type Bundle struct {
	SubjectID   uuid.UUID       `json:"subject_id"`
	SubjectType string          `json:"subject_type"`
	Dimension   string          `json:"dimension"`
	Items       []BundleItem    `json:"items"`
	Context     json.RawMessage `json:"context,omitempty"`
}

type BundleItem struct {
	ID         uuid.UUID       `json:"id"`
	Confidence *float64        `json:"confidence,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

// Result is the bounded-output contract: Score in [0,100], Confidence in [0,1].
type Result struct {
	Dimension  string  `json:"dimension"`
	Score      float64 `json:"score"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
}

type Scorer interface {
	Score(ctx context.Context, bundle Bundle) (Result, error)
}
