package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agritrust/agritrust-backend/internal/logger"
)

func TestStubIsIdempotent(t *testing.T) {
	stub := NewStub()
	ctx := context.Background()

	first, err := stub.Anchor(ctx, "feedfacefeedfacefeedfacefeedface")
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	second, err := stub.Anchor(ctx, "feedfacefeedfacefeedfacefeedface")
	if err != nil {
		t.Fatalf("re-anchor: %v", err)
	}
	if first != second {
		t.Fatalf("same hash must anchor to the same ref: %q vs %q", first, second)
	}

	other, err := stub.Anchor(ctx, "deadbeefdeadbeefdeadbeefdeadbeef")
	if err != nil {
		t.Fatalf("anchor other: %v", err)
	}
	if other == first {
		t.Fatal("different hashes must not share a ref")
	}
}

func TestClientAcceptsAlreadyAnchored(t *testing.T) {
	// 200 signals the hash was anchored previously; the ref still comes back.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ContentHash string `json:"content_hash"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"tx_ref": "tx-" + body.ContentHash[:4]})
	}))
	defer srv.Close()

	t.Setenv("LEDGER_ANCHOR_URL", srv.URL)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	ref, err := NewClient(log).Anchor(context.Background(), "abcd1234")
	if err != nil {
		t.Fatalf("anchor: %v", err)
	}
	if ref != "tx-abcd" {
		t.Fatalf("ref = %q, want tx-abcd", ref)
	}
}

func TestClientRejectsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	t.Setenv("LEDGER_ANCHOR_URL", srv.URL)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	if _, err := NewClient(log).Anchor(context.Background(), "abcd1234"); err == nil {
		t.Fatal("expected error on 502")
	}
}

func TestClientRejectsEmptyTxRef(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	t.Setenv("LEDGER_ANCHOR_URL", srv.URL)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	if _, err := NewClient(log).Anchor(context.Background(), "abcd1234"); err == nil {
		t.Fatal("expected error on empty tx_ref")
	}
}
