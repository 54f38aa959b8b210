package conversation

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStoreSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session := &Session{ID: "s1", Wallet: "0xwallet", Chain: "local"}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("创建会话失败: %v", err)
	}
	if err := store.CreateSession(ctx, &Session{ID: "s1"}); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected conflict for duplicate session, got %v", err)
	}

	got, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.Wallet != "0xwallet" || got.Chain != "local" {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.CreatedAt == 0 {
		t.Fatalf("expected created_at to be set")
	}

	if _, err := store.GetSession(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreMessagesKeepOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateSession(ctx, &Session{ID: "s1"}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	texts := []string{"你好", "帮我转账", "已为你准备交易"}
	senders := []Sender{SenderUser, SenderUser, SenderAgent}
	for i, text := range texts {
		if err := store.Append(ctx, "s1", NewMessage(senders[i], text)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	log, err := store.Messages(ctx, "s1")
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(log))
	}
	for i, msg := range log {
		if msg.Text != texts[i] || msg.Sender != senders[i] {
			t.Fatalf("消息顺序错乱: %+v", log)
		}
		if msg.ID == "" {
			t.Fatalf("expected message id to be assigned")
		}
	}

	if err := store.Append(ctx, "missing", NewMessage(SenderUser, "hi")); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}
	if _, err := store.Messages(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found for unknown session log, got %v", err)
	}
}
