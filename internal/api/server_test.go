package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ChainPilot/internal/assistant"
	"ChainPilot/internal/bundle"
	"ChainPilot/internal/conversation"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/policy"
	"ChainPilot/internal/web3"
)

const (
	apiContract  = "0x1111111111111111111111111111111111111111"
	apiRecipient = "0x2222222222222222222222222222222222222222"
	apiWallet    = "0x3333333333333333333333333333333333333333"
)

type scriptedAssistant struct {
	reply *assistant.Reply
}

func (s *scriptedAssistant) Complete(context.Context, assistant.Request) (*assistant.Reply, error) {
	return s.reply, nil
}

type stubChainClient struct {
	snapshot web3.ChainSnapshot
	balance  string
	nonce    string
	err      error
}

func (c *stubChainClient) FetchChainSnapshot(context.Context) (web3.ChainSnapshot, error) {
	return c.snapshot, c.err
}

func (c *stubChainClient) NativeBalance(context.Context, string) (string, error) {
	return c.balance, nil
}

func (c *stubChainClient) PendingNonce(context.Context, string) (string, error) {
	return c.nonce, nil
}

func (c *stubChainClient) Close() {}

type stubChainProvider struct {
	clients map[string]web3.Client
}

func (p *stubChainProvider) DefaultChain() string { return "local" }

func (p *stubChainProvider) Chains() []string {
	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	return names
}

func (p *stubChainProvider) Client(name string) (web3.Client, bool) {
	client, ok := p.clients[name]
	return client, ok
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	client := &scriptedAssistant{reply: &assistant.Reply{
		Text: "已为你准备一笔转账。",
		Calls: []assistant.ToolCall{{
			Name: "transfer_token",
			Args: map[string]string{
				"contract_address": apiContract,
				"to":               apiRecipient,
				"amount":           "10",
			},
		}},
	}}
	cfg := &policy.Config{
		AllowedContracts:     []string{apiContract},
		AllowedMethods:       []string{"transfer", "approve"},
		MaxTransferAmount:    "100",
		DefaultTokenContract: apiContract,
		NativeSymbol:         "ETH",
	}
	bundles := bundle.NewService(bundle.NewMemoryStore(), bundle.NewMemoryQueue(8))
	orchestrator := conversation.NewOrchestrator(
		conversation.NewMemoryStore(),
		client,
		intent.NewExtractor(cfg.DefaultTokenContract, cfg.NativeSymbol),
		policy.NewValidator(cfg),
		bundles,
	)
	return NewServer(":0", orchestrator, bundles, nil)
}

func createSession(t *testing.T, server *Server) conversation.Session {
	t.Helper()
	body := strings.NewReader(`{"wallet":"` + apiWallet + `","chain":"local"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", body)
	rec := httptest.NewRecorder()
	server.handleCreateSession(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d want %d, body %s", rec.Code, http.StatusCreated, rec.Body.String())
	}
	var session conversation.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if session.ID == "" || session.Wallet != apiWallet {
		t.Fatalf("unexpected session: %+v", session)
	}
	return session
}

func sendMessage(t *testing.T, server *Server, sessionID, text string) conversation.TurnResult {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages", strings.NewReader(`{"text":"`+text+`"}`))
	req.SetPathValue("id", sessionID)
	rec := httptest.NewRecorder()
	server.handleSendMessage(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d, body %s", rec.Code, rec.Body.String())
	}
	var result conversation.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode turn result: %v", err)
	}
	return result
}

func TestConversationRoundTrip(t *testing.T) {
	server := newTestServer(t)
	session := createSession(t, server)

	result := sendMessage(t, server, session.ID, "transfer 10 tokens")
	if result.Bundle == nil || result.Bundle.State != bundle.StatePendingReview {
		t.Fatalf("expected a pending bundle, got %+v", result.Bundle)
	}

	// 查看待审交易包。
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+session.ID+"/bundle", nil)
	req.SetPathValue("id", session.ID)
	rec := httptest.NewRecorder()
	server.handleGetBundle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("get bundle: got %d, body %s", rec.Code, rec.Body.String())
	}

	// 批准后交易包进入 approved。
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+session.ID+"/bundle/approve", nil)
	req.SetPathValue("id", session.ID)
	rec = httptest.NewRecorder()
	server.handleApprove(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("approve: got %d, body %s", rec.Code, rec.Body.String())
	}
	var approved bundle.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &approved); err != nil {
		t.Fatalf("decode approved bundle: %v", err)
	}
	if approved.State != bundle.StateApproved {
		t.Fatalf("unexpected state: %s", approved.State)
	}

	// 已批准的交易包不可重复批准。
	req = httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+session.ID+"/bundle/approve", nil)
	req.SetPathValue("id", session.ID)
	rec = httptest.NewRecorder()
	server.handleApprove(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected conflict on double approve, got %d", rec.Code)
	}
}

func TestRejectBundle(t *testing.T) {
	server := newTestServer(t)
	session := createSession(t, server)
	sendMessage(t, server, session.ID, "transfer 10 tokens")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+session.ID+"/bundle/reject", nil)
	req.SetPathValue("id", session.ID)
	rec := httptest.NewRecorder()
	server.handleReject(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject: got %d, body %s", rec.Code, rec.Body.String())
	}

	// 拒绝后不再有待审交易包。
	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+session.ID+"/bundle", nil)
	req.SetPathValue("id", session.ID)
	rec = httptest.NewRecorder()
	server.handleGetBundle(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after reject, got %d", rec.Code)
	}
}

func TestListMessagesAndBundles(t *testing.T) {
	server := newTestServer(t)
	session := createSession(t, server)
	sendMessage(t, server, session.ID, "transfer 10 tokens")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+session.ID+"/messages", nil)
	req.SetPathValue("id", session.ID)
	rec := httptest.NewRecorder()
	server.handleListMessages(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list messages: got %d", rec.Code)
	}
	var messages []conversation.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode messages: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+session.ID+"/bundles?limit=5", nil)
	req.SetPathValue("id", session.ID)
	rec = httptest.NewRecorder()
	server.handleListBundles(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("list bundles: got %d", rec.Code)
	}
	var bundles []bundle.Bundle
	if err := json.Unmarshal(rec.Body.Bytes(), &bundles); err != nil {
		t.Fatalf("decode bundles: %v", err)
	}
	if len(bundles) != 1 {
		t.Fatalf("expected 1 bundle, got %d", len(bundles))
	}
}

func TestErrorStatusMapping(t *testing.T) {
	server := newTestServer(t)

	t.Run("unknown session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/missing/messages", strings.NewReader(`{"text":"hi"}`))
		req.SetPathValue("id", "missing")
		rec := httptest.NewRecorder()
		server.handleSendMessage(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if payload["code"] != string(conversation.CodeSessionNotFound) {
			t.Fatalf("unexpected error code: %+v", payload)
		}
	})

	t.Run("blank message", func(t *testing.T) {
		session := createSession(t, server)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+session.ID+"/messages", strings.NewReader(`{"text":"  "}`))
		req.SetPathValue("id", session.ID)
		rec := httptest.NewRecorder()
		server.handleSendMessage(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("not-json"))
		rec := httptest.NewRecorder()
		server.handleCreateSession(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("busy session", func(t *testing.T) {
		rec := httptest.NewRecorder()
		writeError(rec, xerrors.New(conversation.CodeSessionBusy, "上一轮助手请求尚未返回"))
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409 for busy session, got %d", rec.Code)
		}
		var payload map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if payload["code"] != string(conversation.CodeSessionBusy) {
			t.Fatalf("unexpected error code: %+v", payload)
		}
	})

	t.Run("approve without bundle", func(t *testing.T) {
		session := createSession(t, server)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+session.ID+"/bundle/approve", nil)
		req.SetPathValue("id", session.ID)
		rec := httptest.NewRecorder()
		server.handleApprove(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})
}

func TestChainSnapshotEndpoint(t *testing.T) {
	server := newTestServer(t)
	server.chains = &stubChainProvider{clients: map[string]web3.Client{
		"local": &stubChainClient{
			snapshot: web3.ChainSnapshot{ChainID: "0x1", BlockNumber: "0x2a"},
			balance:  "0xde0b6b3a7640000",
			nonce:    "0x3",
		},
	}}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chains/local/snapshot?address="+apiWallet, nil)
	req.SetPathValue("name", "local")
	rec := httptest.NewRecorder()
	server.handleChainSnapshot(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("snapshot: got %d, body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Chain       string `json:"chain"`
		ChainID     string `json:"chain_id"`
		BlockNumber string `json:"block_number"`
		Balance     string `json:"balance"`
		Nonce       string `json:"nonce"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if payload.Chain != "local" || payload.ChainID != "0x1" || payload.BlockNumber != "0x2a" {
		t.Fatalf("unexpected snapshot: %+v", payload)
	}
	if payload.Balance != "0xde0b6b3a7640000" || payload.Nonce != "0x3" {
		t.Fatalf("unexpected account fields: %+v", payload)
	}

	t.Run("unknown chain", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chains/testnet/snapshot", nil)
		req.SetPathValue("name", "testnet")
		rec := httptest.NewRecorder()
		server.handleChainSnapshot(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown chain, got %d", rec.Code)
		}
	})

	t.Run("rpc failure", func(t *testing.T) {
		server.chains = &stubChainProvider{clients: map[string]web3.Client{
			"local": &stubChainClient{err: errors.New("节点不可达")},
		}}
		req := httptest.NewRequest(http.MethodGet, "/api/v1/chains/local/snapshot", nil)
		req.SetPathValue("name", "local")
		rec := httptest.NewRecorder()
		server.handleChainSnapshot(rec, req)
		if rec.Code != http.StatusBadGateway {
			t.Fatalf("expected 502 on rpc failure, got %d", rec.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	rec := httptest.NewRecorder()
	server.handleHealth(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health: got %d", rec.Code)
	}
}
