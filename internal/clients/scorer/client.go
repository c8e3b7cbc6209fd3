package scorer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agritrust/agritrust-backend/internal/logger"
)

// client talks to whatever model gateway SCORER_BASE_URL points at. The
// gateway owns prompts and providers; this side only enforces the contract.
type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
	maxRetries int
}

// NewClient returns the HTTP scorer, or the deterministic Stub when
// SCORER_BASE_URL is unset so local runs and tests stay self-contained.
func NewClient(log *logger.Logger) Scorer {
	baseURL := strings.TrimSpace(os.Getenv("SCORER_BASE_URL"))
	if baseURL == "" {
		if log != nil {
			log.Warn("SCORER_BASE_URL not set; using deterministic stub scorer")
		}
		return NewStub()
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 30
	if v := strings.TrimSpace(os.Getenv("SCORER_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}
	maxRetries := 2
	if v := strings.TrimSpace(os.Getenv("SCORER_MAX_RETRIES")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			maxRetries = parsed
		}
	}

	return &client{
		log:        log.With("client", "EvidenceScorer"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("SCORER_API_KEY")),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: maxRetries,
	}
}

func (c *client) Score(ctx context.Context, bundle Bundle) (Result, error) {
	body, err := json.Marshal(bundle)
	if err != nil {
		return Result{}, fmt.Errorf("marshal bundle: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/score", bytes.NewReader(body))
		if err != nil {
			return Result{}, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		raw, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("scorer returned %d: %s", resp.StatusCode, truncate(raw, 200))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return Result{}, fmt.Errorf("scorer returned %d: %s", resp.StatusCode, truncate(raw, 200))
		}

		var result Result
		if err := json.Unmarshal(raw, &result); err != nil {
			return Result{}, fmt.Errorf("decode scorer response: %w", err)
		}
		return clampResult(result, bundle.Dimension), nil
	}
	return Result{}, fmt.Errorf("scorer unavailable after %d attempts: %w", c.maxRetries+1, lastErr)
}

// clampResult enforces the bounded-output contract on whatever came back.
func clampResult(r Result, dimension string) Result {
	if r.Dimension == "" {
		r.Dimension = dimension
	}
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 100 {
		r.Score = 100
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	return r
}

func truncate(raw []byte, n int) string {
	s := string(raw)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
