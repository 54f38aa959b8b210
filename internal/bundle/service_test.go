package bundle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeProducer struct {
	mu        sync.Mutex
	published []string
	failNext  error
}

func (f *fakeProducer) Publish(_ context.Context, bundleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.published = append(f.published, bundleID)
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestServiceStageSupersedesPendingBundle(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &fakeProducer{})
	ctx := context.Background()

	first, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents())
	if err != nil {
		t.Fatalf("stage first: %v", err)
	}
	second, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents())
	if err != nil {
		t.Fatalf("stage second: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("expected a fresh bundle id")
	}

	old, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("get superseded: %v", err)
	}
	if old.State != StateSuperseded {
		t.Fatalf("旧交易包未被替换: %s", old.State)
	}

	active, err := svc.Active(ctx, "s1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if active.ID != second.ID {
		t.Fatalf("expected new bundle to be active, got %s", active.ID)
	}
}

func TestServiceStageRejectsWhileApproved(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, &fakeProducer{})
	ctx := context.Background()

	staged, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := svc.Approve(ctx, "s1"); err != nil {
		t.Fatalf("approve: %v", err)
	}

	// 已批准的交易包不可被新一轮对话替换。
	if _, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents()); !errors.Is(err, ErrBundleConflict) {
		t.Fatalf("expected conflict while approved, got %v", err)
	}

	current, err := store.Get(ctx, staged.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if current.State != StateApproved {
		t.Fatalf("approved bundle was touched: %s", current.State)
	}
}

func TestServiceStageValidatesInput(t *testing.T) {
	svc := NewService(NewMemoryStore(), &fakeProducer{})
	ctx := context.Background()

	if _, err := svc.Stage(ctx, "", "0xwallet", "transfer", sampleIntents()); err == nil {
		t.Fatalf("expected error for empty session id")
	}
	if _, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", nil); err == nil {
		t.Fatalf("expected error for empty intents")
	}
}

func TestServiceApprovePublishes(t *testing.T) {
	producer := &fakeProducer{}
	svc := NewService(NewMemoryStore(), producer)
	ctx := context.Background()

	staged, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	approved, err := svc.Approve(ctx, "s1")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.ID != staged.ID || approved.State != StateApproved {
		t.Fatalf("unexpected approved bundle: %+v", approved)
	}
	if producer.count() != 1 {
		t.Fatalf("expected one publish, got %d", producer.count())
	}

	// 已批准的交易包仍占据会话，重复批准返回冲突。
	if _, err := svc.Approve(ctx, "s1"); !errors.Is(err, ErrBundleConflict) {
		t.Fatalf("expected conflict on double approve, got %v", err)
	}
}

func TestServiceApprovePublishFailureIsTerminal(t *testing.T) {
	producer := &fakeProducer{failNext: errors.New("broker down")}
	store := NewMemoryStore()
	svc := NewService(store, producer)
	ctx := context.Background()

	staged, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if _, err := svc.Approve(ctx, "s1"); err == nil {
		t.Fatalf("expected publish failure to surface")
	}

	final, err := store.Get(ctx, staged.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 入队失败即终态，绝不重试。
	if final.State != StateExecutionFailed {
		t.Fatalf("expected execution_failed after publish failure, got %s", final.State)
	}
}

func TestServiceRejectIsFinal(t *testing.T) {
	svc := NewService(NewMemoryStore(), &fakeProducer{})
	ctx := context.Background()

	if _, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents()); err != nil {
		t.Fatalf("stage: %v", err)
	}
	rejected, err := svc.Reject(ctx, "s1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.State != StateRejected {
		t.Fatalf("unexpected state: %s", rejected.State)
	}
	if _, err := svc.Reject(ctx, "s1"); !errors.Is(err, ErrBundleNotFound) {
		t.Fatalf("expected not found after reject, got %v", err)
	}
}

func TestServiceReviewTimeoutSupersedesLazily(t *testing.T) {
	store := NewMemoryStore()
	current := time.Now()
	svc := NewService(store, &fakeProducer{},
		WithReviewTimeout(30*time.Second),
		WithClock(func() time.Time { return current }),
	)
	ctx := context.Background()

	staged, err := svc.Stage(ctx, "s1", "0xwallet", "transfer", sampleIntents())
	if err != nil {
		t.Fatalf("stage: %v", err)
	}

	// 未超时时正常可见。
	if _, err := svc.Active(ctx, "s1"); err != nil {
		t.Fatalf("active before timeout: %v", err)
	}

	current = current.Add(31 * time.Second)
	if _, err := svc.Active(ctx, "s1"); !errors.Is(err, ErrBundleNotFound) {
		t.Fatalf("expected expired bundle to vanish, got %v", err)
	}

	expired, err := store.Get(ctx, staged.ID)
	if err != nil {
		t.Fatalf("get expired: %v", err)
	}
	if expired.State != StateSuperseded {
		t.Fatalf("expected superseded after timeout, got %s", expired.State)
	}

	// 超时后的批准同样失败。
	if _, err := svc.Approve(ctx, "s1"); !errors.Is(err, ErrBundleNotFound) {
		t.Fatalf("expected approve to fail after timeout, got %v", err)
	}
}
