package relay

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/executor"
)

func sampleCalls() []executor.CallDescriptor {
	return []executor.CallDescriptor{{
		To:    common.HexToAddress("0x2222222222222222222222222222222222222222"),
		Data:  []byte{0x01, 0x02},
		Value: big.NewInt(0),
	}}
}

func TestSubmitBatchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var payload struct {
			Wallet string                    `json:"wallet"`
			Calls  []executor.CallDescriptor `json:"calls"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload.Wallet != "0xwallet" || len(payload.Calls) != 1 {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"tx_hash": "0xcafed00d"})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	txHash, err := client.SubmitBatch(context.Background(), "0xwallet", sampleCalls())
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	if txHash != "0xcafed00d" {
		t.Fatalf("unexpected tx hash: %s", txHash)
	}
}

func TestSubmitBatchStructuredError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"kind": "insufficient_funds", "message": "账户余额不足"},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.SubmitBatch(context.Background(), "0xwallet", sampleCalls())
	if err == nil {
		t.Fatalf("expected structured error")
	}
	if xerrors.CodeOf(err) != xerrors.CodeRelayFailure {
		t.Fatalf("unexpected error code: %s", xerrors.CodeOf(err))
	}
	if !strings.Contains(err.Error(), "insufficient_funds") {
		t.Fatalf("error should carry the relay kind: %v", err)
	}
}

func TestSubmitBatchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SubmitBatch(context.Background(), "0xwallet", sampleCalls()); xerrors.CodeOf(err) != xerrors.CodeRelayFailure {
		t.Fatalf("expected relay failure, got %v", err)
	}
}

func TestSubmitBatchMissingHash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SubmitBatch(context.Background(), "0xwallet", sampleCalls()); err == nil {
		t.Fatalf("expected error for missing tx hash")
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
