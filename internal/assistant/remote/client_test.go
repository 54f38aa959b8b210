package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"ChainPilot/internal/assistant"
	xerrors "ChainPilot/internal/errors"
)

func TestCompleteReturnsReplyAndCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected bearer token, got %q", got)
		}
		var req assistant.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Address != "0xwallet" || req.Chain != "local" {
			t.Fatalf("unexpected request: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(assistant.Reply{
			Text: "已为你准备一笔转账。",
			Calls: []assistant.ToolCall{{
				Name: "transfer_token",
				Args: map[string]string{"amount": "10"},
			}},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	reply, err := client.Complete(context.Background(), assistant.Request{
		Messages: []assistant.Message{
			{Role: assistant.RoleUser, Content: "转 10 个代币"},
			{Role: assistant.RoleAgent, Content: "好的"},
		},
		Address: "0xwallet",
		Chain:   "local",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply.Text == "" || len(reply.Calls) != 1 {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if reply.Calls[0].Name != "transfer_token" {
		t.Fatalf("unexpected tool call: %+v", reply.Calls[0])
	}
}

func TestCompleteHTTPErrorIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Complete(context.Background(), assistant.Request{})
	if xerrors.CodeOf(err) != xerrors.CodeTransportFailure {
		t.Fatalf("expected transport failure, got %v", err)
	}
}

func TestCompleteUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	client, err := NewClient(Config{Endpoint: endpoint})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = client.Complete(context.Background(), assistant.Request{})
	if xerrors.CodeOf(err) != xerrors.CodeTransportFailure {
		t.Fatalf("expected transport failure for closed endpoint, got %v", err)
	}
}

func TestCompleteEmptyReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(assistant.Reply{})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Complete(context.Background(), assistant.Request{}); xerrors.CodeOf(err) != xerrors.CodeTransportFailure {
		t.Fatalf("expected empty reply to be a transport failure, got %v", err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
