package chainpilot

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCreateSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/sessions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var payload map[string]string
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["wallet"] != "0xwallet" || payload["chain"] != "local" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(Session{ID: "s1", Wallet: "0xwallet", Chain: "local"})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	session, err := client.CreateSession(context.Background(), "0xwallet", "local")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.ID != "s1" {
		t.Fatalf("unexpected session: %+v", session)
	}
}

func TestSendMessageAndApprove(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sessions/s1/messages":
			_ = json.NewEncoder(w).Encode(TurnResult{
				Reply: Message{ID: "m1", Sender: "agent", Text: "已准备交易"},
				Bundle: &Bundle{
					ID:    "b1",
					State: "pending_review",
					Intents: []Intent{{
						Kind:   "transfer",
						Method: "transfer",
						Args:   []Arg{{Name: "amount", Value: "10"}},
					}},
				},
			})
		case "/api/v1/sessions/s1/bundle/approve":
			_ = json.NewEncoder(w).Encode(Bundle{ID: "b1", State: "approved"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	turn, err := client.SendMessage(ctx, "s1", "转 10 个代币")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if turn.Bundle == nil || turn.Bundle.ID != "b1" {
		t.Fatalf("unexpected turn: %+v", turn)
	}
	if turn.Bundle.Intents[0].Args[0].Value != "10" {
		t.Fatalf("unexpected intent args: %+v", turn.Bundle.Intents)
	}

	approved, err := client.ApproveBundle(ctx, "s1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.State != "approved" {
		t.Fatalf("unexpected state: %s", approved.State)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":  "BUNDLE_CONFLICT",
			"error": "bundle state conflict",
		})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.ApproveBundle(context.Background(), "s1")
	if err == nil {
		t.Fatalf("expected api error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "BUNDLE_CONFLICT" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
}

func TestBundleHistoryLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("limit"); got != "5" {
			t.Fatalf("expected limit query, got %q", got)
		}
		_ = json.NewEncoder(w).Encode([]Bundle{{ID: "b1"}, {ID: "b2"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	bundles, err := client.BundleHistory(context.Background(), "s1", 5)
	if err != nil {
		t.Fatalf("bundle history: %v", err)
	}
	if len(bundles) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(bundles))
	}
}
