package bundle

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"time"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/executor"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/pkg/logger"
)

// Runner 定义了处理器所需的执行能力。
type Runner interface {
	Execute(ctx context.Context, wallet string, intents []intent.Intent) (executor.ExecutionResult, error)
}

// ResultSink 在交易包到达终态后收到通知，由对话层用来向
// 消息日志追加成功或失败的回执。
type ResultSink func(ctx context.Context, b *Bundle, result executor.ExecutionResult)

// Processor 负责从执行队列消费已批准的交易包并提交上链。
// 执行失败即终态：处理器从不重投、从不重试。
type Processor struct {
	runner      Runner
	store       Store
	consumer    Consumer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	sink        ResultSink
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithResultSink 配置执行结果回调。
func WithResultSink(sink ResultSink) ProcessorOption {
	return func(p *Processor) {
		p.sink = sink
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runner Runner, store Store, consumer Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runner:      runner,
		store:       store,
		consumer:    consumer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动交易包处理循环。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置执行队列消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, bundleID string) error {
	if p.store == nil || p.runner == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	b, err := p.store.Claim(ctx, bundleID)
	if err != nil {
		if stdErrors.Is(err, ErrBundleNotFound) || stdErrors.Is(err, ErrBundleTerminal) || stdErrors.Is(err, ErrBundleConflict) {
			p.logDebug("跳过交易包", slog.String("bundle_id", bundleID), slog.String("reason", err.Error()))
			return nil
		}
		logger.L().Error("领取交易包失败", slog.Any("error", err), slog.String("bundle_id", bundleID))
		return err
	}

	result, execErr := p.runner.Execute(ctx, b.Wallet, b.Intents)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, b, result, execErr)
	}

	if err := p.store.MarkExecuted(ctx, b.ID, result.TxHash); err != nil {
		logger.L().Error("标记交易包成功状态失败", slog.Any("error", err), slog.String("bundle_id", b.ID))
		return err
	}
	metrics.ObserveExecution("executed")
	logger.Audit().Info("交易包执行成功",
		slog.String("session_id", b.SessionID),
		slog.String("bundle_id", b.ID),
		slog.String("tx_hash", result.TxHash),
		slog.Int("intent_count", len(b.Intents)),
	)
	p.notifySink(ctx, b.ID, result)
	return nil
}

func (p *Processor) handleExecutionFailure(ctx context.Context, b *Bundle, result executor.ExecutionResult, execErr error) error {
	kind := result.ErrorKind
	if kind == "" {
		kind = executor.ErrorKindRelay
	}
	if storeErr := p.store.MarkFailed(ctx, b.ID, kind, execErr.Error()); storeErr != nil {
		logger.L().Error("标记交易包失败状态出错", slog.Any("error", storeErr), slog.String("bundle_id", b.ID))
		return storeErr
	}
	metrics.ObserveExecution("execution_failed")
	logger.Audit().Warn("交易包执行失败",
		slog.String("session_id", b.SessionID),
		slog.String("bundle_id", b.ID),
		slog.String("error_kind", kind),
		slog.String("error", execErr.Error()),
	)
	p.emitAlert(ctx, b, execErr, kind)
	p.notifySink(ctx, b.ID, result)
	return nil
}

func (p *Processor) notifySink(ctx context.Context, bundleID string, result executor.ExecutionResult) {
	if p.sink == nil {
		return
	}
	final, err := p.store.Get(ctx, bundleID)
	if err != nil {
		logger.L().Error("读取终态交易包失败", slog.Any("error", err), slog.String("bundle_id", bundleID))
		return
	}
	p.sink(ctx, final, result)
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, b *Bundle, cause error, kind string) {
	if p == nil || p.alerter == nil || b == nil {
		return
	}
	code := xerrors.CodeOf(cause)
	if code == xerrors.CodeUnknown {
		code = xerrors.CodeExecutionFailure
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:      code,
		Message:   message,
		Severity:  attrs.Severity,
		SessionID: b.SessionID,
		BundleID:  b.ID,
		Metadata: map[string]string{
			"error_kind": kind,
		},
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("bundle_id", b.ID),
		)
	}
}
