package ledger

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

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient returns the HTTP anchor client, or the Stub when
// LEDGER_ANCHOR_URL is unset. Retrying is the anchor worker's job; this
// client is single-shot.
func NewClient(log *logger.Logger) Client {
	baseURL := strings.TrimSpace(os.Getenv("LEDGER_ANCHOR_URL"))
	if baseURL == "" {
		if log != nil {
			log.Warn("LEDGER_ANCHOR_URL not set; using stub ledger anchor")
		}
		return NewStub()
	}
	baseURL = strings.TrimRight(baseURL, "/")

	timeoutSec := 15
	if v := strings.TrimSpace(os.Getenv("LEDGER_ANCHOR_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        log.With("client", "LedgerAnchor"),
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(os.Getenv("LEDGER_ANCHOR_API_KEY")),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}
}

func (c *client) Anchor(ctx context.Context, contentHash string) (string, error) {
	body, err := json.Marshal(map[string]string{"content_hash": contentHash})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/anchors", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("anchor request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	// 200 and 201 both carry a tx ref; 200 means the hash was already anchored.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("ledger anchor returned %d", resp.StatusCode)
	}

	var parsed struct {
		TxRef string `json:"tx_ref"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode anchor response: %w", err)
	}
	if parsed.TxRef == "" {
		return "", fmt.Errorf("ledger anchor returned empty tx_ref")
	}
	return parsed.TxRef, nil
}
