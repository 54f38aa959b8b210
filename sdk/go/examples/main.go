package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ChainPilot/sdk/go/chainpilot"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chainpilot.Session{
			ID:        "session-demo",
			Wallet:    "0x1111111111111111111111111111111111111111",
			Chain:     "local",
			CreatedAt: time.Now().Unix(),
		})
	})
	mux.HandleFunc("POST /api/v1/sessions/session-demo/messages", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chainpilot.TurnResult{
			Reply: chainpilot.Message{
				ID:        "msg-demo",
				Sender:    "agent",
				Text:      "已为你准备一笔转账，请确认。",
				CreatedAt: time.Now().Unix(),
			},
			Bundle: &chainpilot.Bundle{
				ID:        "bundle-demo",
				SessionID: "session-demo",
				State:     "pending_review",
				Intents: []chainpilot.Intent{{
					Kind:     "transfer_token",
					Contract: "0x1111111111111111111111111111111111111111",
					Method:   "transfer",
					Args: []chainpilot.Arg{
						{Name: "to", Value: "0x2222222222222222222222222222222222222222"},
						{Name: "amount", Value: "10"},
					},
				}},
			},
		})
	})
	mux.HandleFunc("POST /api/v1/sessions/session-demo/bundle/approve", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(chainpilot.Bundle{
			ID:        "bundle-demo",
			SessionID: "session-demo",
			State:     "approved",
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := chainpilot.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session, err := client.CreateSession(ctx, "0x1111111111111111111111111111111111111111", "local")
	if err != nil {
		panic(err)
	}
	fmt.Printf("session created: %s\n", session.ID)

	turn, err := client.SendMessage(ctx, session.ID, "给 0x2222...2222 转 10 个代币")
	if err != nil {
		panic(err)
	}
	fmt.Printf("assistant: %s\n", turn.Reply.Text)
	if turn.Bundle != nil {
		fmt.Printf("staged bundle %s with %d intent(s), state %s\n", turn.Bundle.ID, len(turn.Bundle.Intents), turn.Bundle.State)
	}

	approved, err := client.ApproveBundle(ctx, session.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("bundle %s now %s\n", approved.ID, approved.State)
}
