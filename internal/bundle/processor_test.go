package bundle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/executor"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/observability/alerting"
)

type fakeRunner struct {
	executions atomic.Int32
	result     executor.ExecutionResult
	err        error
}

func (f *fakeRunner) Execute(_ context.Context, _ string, _ []intent.Intent) (executor.ExecutionResult, error) {
	f.executions.Add(1)
	return f.result, f.err
}

type recordingSink struct {
	mu      sync.Mutex
	bundles []*Bundle
	results []executor.ExecutionResult
}

func (r *recordingSink) sink(_ context.Context, b *Bundle, result executor.ExecutionResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundles = append(r.bundles, b)
	r.results = append(r.results, result)
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingAlerter) Notify(_ context.Context, event alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func stageApproved(t *testing.T, store Store) *Bundle {
	t.Helper()
	ctx := context.Background()
	b := newTestBundle("b1", "s1")
	if err := store.Create(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}
	approved, err := store.Approve(ctx, b.ID)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	return approved
}

func TestProcessorHandleSuccess(t *testing.T) {
	store := NewMemoryStore()
	approved := stageApproved(t, store)

	runner := &fakeRunner{result: executor.ExecutionResult{TxHash: "0xdead", Succeeded: true}}
	sink := &recordingSink{}
	processor := NewProcessor(runner, store, NewMemoryQueue(8), WithResultSink(sink.sink))

	if err := processor.handle(context.Background(), approved.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}

	final, err := store.Get(context.Background(), approved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.State != StateExecuted || final.TxHash != "0xdead" {
		t.Fatalf("unexpected final bundle: %+v", final)
	}
	if len(sink.bundles) != 1 || sink.bundles[0].State != StateExecuted {
		t.Fatalf("sink 未收到终态交易包: %+v", sink.bundles)
	}
}

func TestProcessorHandleFailureIsTerminal(t *testing.T) {
	store := NewMemoryStore()
	approved := stageApproved(t, store)

	runner := &fakeRunner{
		result: executor.ExecutionResult{ErrorKind: executor.ErrorKindSigning},
		err:    xerrors.New(xerrors.CodeSigningRejected, "用户拒绝签名"),
	}
	sink := &recordingSink{}
	alerter := &recordingAlerter{}
	processor := NewProcessor(runner, store, NewMemoryQueue(8),
		WithResultSink(sink.sink),
		WithAlertDispatcher(alerter),
	)

	// 执行失败不向队列返回错误，避免任何形式的重投。
	if err := processor.handle(context.Background(), approved.ID); err != nil {
		t.Fatalf("handle should swallow execution errors, got %v", err)
	}

	final, err := store.Get(context.Background(), approved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.State != StateExecutionFailed {
		t.Fatalf("expected execution_failed, got %s", final.State)
	}
	if final.ErrorKind != executor.ErrorKindSigning {
		t.Fatalf("unexpected error kind: %s", final.ErrorKind)
	}

	if len(alerter.events) != 1 {
		t.Fatalf("expected one alert, got %d", len(alerter.events))
	}
	event := alerter.events[0]
	if event.BundleID != approved.ID || event.Metadata["error_kind"] != executor.ErrorKindSigning {
		t.Fatalf("unexpected alert event: %+v", event)
	}
	if len(sink.bundles) != 1 || sink.bundles[0].State != StateExecutionFailed {
		t.Fatalf("sink 未收到失败终态: %+v", sink.bundles)
	}
}

func TestProcessorHandleDefaultsErrorKind(t *testing.T) {
	store := NewMemoryStore()
	approved := stageApproved(t, store)

	runner := &fakeRunner{err: errors.New("boom")}
	processor := NewProcessor(runner, store, NewMemoryQueue(8))

	if err := processor.handle(context.Background(), approved.ID); err != nil {
		t.Fatalf("handle: %v", err)
	}
	final, err := store.Get(context.Background(), approved.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.ErrorKind != executor.ErrorKindRelay {
		t.Fatalf("expected relay_failure as default kind, got %s", final.ErrorKind)
	}
}

func TestProcessorSkipsUnclaimableBundles(t *testing.T) {
	store := NewMemoryStore()
	runner := &fakeRunner{result: executor.ExecutionResult{TxHash: "0x1", Succeeded: true}}
	processor := NewProcessor(runner, store, NewMemoryQueue(8))
	ctx := context.Background()

	// 不存在的交易包静默跳过。
	if err := processor.handle(ctx, "missing"); err != nil {
		t.Fatalf("handle missing: %v", err)
	}

	// 终态交易包的重复投递同样跳过，不触发二次执行。
	approved := stageApproved(t, store)
	if err := processor.handle(ctx, approved.ID); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := processor.handle(ctx, approved.ID); err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if got := runner.executions.Load(); got != 1 {
		t.Fatalf("expected exactly one execution, got %d", got)
	}
}

func TestProcessorConsumesFromQueue(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(64)
	runner := &fakeRunner{result: executor.ExecutionResult{TxHash: "0xqueued", Succeeded: true}}
	processor := NewProcessor(runner, store, queue, WithWorkerCount(4))

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	approved := stageApproved(t, store)
	if err := queue.Publish(ctx, approved.ID); err != nil {
		t.Fatalf("publish: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		final, err := store.Get(ctx, approved.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if final.State == StateExecuted {
			cancel()
			return
		}
		select {
		case <-deadline:
			t.Fatalf("交易包未能及时执行，当前状态 %s", final.State)
		case <-time.After(20 * time.Millisecond):
		}
	}
}
