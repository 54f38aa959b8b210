package conversation

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"ChainPilot/internal/assistant"
	"ChainPilot/internal/bundle"
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/executor"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/policy"
	"ChainPilot/internal/web3"
	"ChainPilot/pkg/logger"
)

// 助手端点不可达时追加的固定致歉回复。
const apologyText = "抱歉，助手暂时无法响应，请稍后重试。"

// TurnResult 汇总一轮对话的产出：助手回复与可能暂存的交易包。
type TurnResult struct {
	Reply  Message        `json:"reply"`
	Bundle *bundle.Bundle `json:"bundle,omitempty"`
}

// Orchestrator 驱动完整的对话回路：记录用户消息、调用远端助手、
// 提取并过滤意图、暂存交易包，并在执行结束后把结果写回消息日志。
// 同一会话在助手请求未返回前拒绝接收新消息。
type Orchestrator struct {
	store      Store
	client     assistant.Client
	extractor  *intent.Extractor
	validator  *policy.Validator
	bundles    *bundle.Service
	chains     ChainReader
	timeout    time.Duration
	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// ChainReader 按名称解析链客户端，provider.Registry 实现该接口。
type ChainReader interface {
	Client(name string) (web3.Client, bool)
	DefaultClient() (web3.Client, error)
}

// OrchestratorOption 定义可选配置。
type OrchestratorOption func(*Orchestrator)

// WithAssistantTimeout 设置等待助手回复的超时时间。
func WithAssistantTimeout(timeout time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithChainReader 绑定链客户端注册表，让助手请求携带目标链的实时快照。
func WithChainReader(chains ChainReader) OrchestratorOption {
	return func(o *Orchestrator) {
		o.chains = chains
	}
}

// NewOrchestrator 构造 Orchestrator。
func NewOrchestrator(
	store Store,
	client assistant.Client,
	extractor *intent.Extractor,
	validator *policy.Validator,
	bundles *bundle.Service,
	opts ...OrchestratorOption,
) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		client:    client,
		extractor: extractor,
		validator: validator,
		bundles:   bundles,
		timeout:   30 * time.Second,
		inflight:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// CreateSession 创建一个绑定钱包与目标链的新会话。
func (o *Orchestrator) CreateSession(ctx context.Context, wallet, chain string) (*Session, error) {
	if o.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	session := &Session{
		ID:     uuid.NewString(),
		Wallet: strings.TrimSpace(wallet),
		Chain:  strings.TrimSpace(chain),
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	logger.Audit().Info("会话已创建",
		slog.String("session_id", session.ID),
		slog.String("wallet", session.Wallet),
		slog.String("chain", session.Chain),
	)
	return session, nil
}

// Messages 返回会话的完整消息日志。
func (o *Orchestrator) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	if o.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "会话存储未初始化")
	}
	return o.store.Messages(ctx, sessionID)
}

// HandleMessage 处理一条用户消息并返回本轮对话的产出。
func (o *Orchestrator) HandleMessage(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if o.store == nil || o.client == nil || o.extractor == nil || o.validator == nil || o.bundles == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "对话编排器未初始化")
	}
	if strings.TrimSpace(text) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "消息内容不能为空")
	}
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !o.acquire(sessionID) {
		return nil, xerrors.New(CodeSessionBusy, "上一轮助手请求尚未返回")
	}
	defer o.release(sessionID)

	if err := o.store.Append(ctx, sessionID, NewMessage(SenderUser, text)); err != nil {
		return nil, err
	}

	reply, err := o.complete(ctx, session)
	if err != nil {
		// 传输失败：追加固定致歉回复，已有的待审交易包保持不动。
		apology := NewMessage(SenderAgent, apologyText)
		if appendErr := o.store.Append(ctx, sessionID, apology); appendErr != nil {
			return nil, appendErr
		}
		logger.L().Warn("助手请求失败",
			slog.Any("error", err),
			slog.String("session_id", sessionID),
		)
		return &TurnResult{Reply: apology}, nil
	}

	agentMsg := NewMessage(SenderAgent, reply.Text)
	if err := o.store.Append(ctx, sessionID, agentMsg); err != nil {
		return nil, err
	}

	staged, err := o.stage(ctx, session, reply)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Reply: agentMsg, Bundle: staged}, nil
}

func (o *Orchestrator) complete(ctx context.Context, session *Session) (*assistant.Reply, error) {
	log, err := o.store.Messages(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	req := assistant.Request{
		Messages: make([]assistant.Message, 0, len(log)),
		Address:  session.Wallet,
		Chain:    session.Chain,
		Snapshot: o.chainSnapshot(ctx, session.Chain),
	}
	for _, msg := range log {
		role := assistant.RoleUser
		if msg.Sender == SenderAgent {
			role = assistant.RoleAgent
		}
		req.Messages = append(req.Messages, assistant.Message{Role: role, Content: msg.Text})
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.client.Complete(callCtx, req)
}

// chainSnapshot 尽力获取目标链的实时快照。拿不到快照不阻塞对话：
// 未绑定注册表、链名未注册或 RPC 失败时返回 nil。
func (o *Orchestrator) chainSnapshot(ctx context.Context, chain string) *web3.ChainSnapshot {
	if o.chains == nil {
		return nil
	}
	client, ok := o.chains.Client(chain)
	if !ok {
		fallback, err := o.chains.DefaultClient()
		if err != nil {
			return nil
		}
		client = fallback
	}

	snapCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snapshot, err := client.FetchChainSnapshot(snapCtx)
	if err != nil {
		logger.L().Warn("获取链快照失败",
			slog.Any("error", err),
			slog.String("chain", chain),
		)
		return nil
	}
	return &snapshot
}

// stage 把助手输出经过提取与策略过滤后暂存为待审交易包。
// 过滤后为空则本轮不产生交易包，会话保持空闲。
func (o *Orchestrator) stage(ctx context.Context, session *Session, reply *assistant.Reply) (*bundle.Bundle, error) {
	extracted := o.extractor.Extract(reply.Calls, reply.Text, session.Wallet)
	for _, item := range extracted {
		metrics.ObserveIntentExtracted(string(item.Kind))
	}
	safe := o.validator.Filter(extracted)
	if len(safe) == 0 {
		return nil, nil
	}

	staged, err := o.bundles.Stage(ctx, session.ID, session.Wallet, describe(safe), safe)
	if err != nil {
		if stdErrors.Is(err, bundle.ErrBundleConflict) {
			// 已批准或执行中的交易包不可替换，本轮放弃暂存。
			logger.L().Warn("交易包暂存被拒绝",
				slog.String("session_id", session.ID),
				slog.Any("error", err),
			)
			return nil, nil
		}
		return nil, err
	}
	return staged, nil
}

// Approve 批准会话当前的待审交易包。对终态交易包的重复批准
// 是幂等空操作，直接返回当前快照。
func (o *Orchestrator) Approve(ctx context.Context, sessionID string) (*bundle.Bundle, error) {
	approved, err := o.bundles.Approve(ctx, sessionID)
	if err != nil && stdErrors.Is(err, bundle.ErrBundleTerminal) && approved != nil {
		return approved, nil
	}
	return approved, err
}

// Reject 拒绝会话当前的待审交易包。对终态交易包的重复拒绝
// 是幂等空操作。
func (o *Orchestrator) Reject(ctx context.Context, sessionID string) (*bundle.Bundle, error) {
	rejected, err := o.bundles.Reject(ctx, sessionID)
	if err != nil && stdErrors.Is(err, bundle.ErrBundleTerminal) && rejected != nil {
		return rejected, nil
	}
	return rejected, err
}

// PendingBundle 返回会话当前的非终态交易包快照。
func (o *Orchestrator) PendingBundle(ctx context.Context, sessionID string) (*bundle.Bundle, error) {
	return o.bundles.Active(ctx, sessionID)
}

// OnExecutionResult 实现 bundle.ResultSink：交易包到达终态后，
// 把执行结果作为一条助手消息写回会话日志。
func (o *Orchestrator) OnExecutionResult(ctx context.Context, b *bundle.Bundle, result executor.ExecutionResult) {
	if b == nil {
		return
	}
	var text string
	if result.Succeeded {
		text = fmt.Sprintf("交易已上链，交易哈希 %s。", result.TxHash)
	} else {
		text = fmt.Sprintf("交易执行失败（%s），本次操作未生效。请重新发起对话生成新的交易包。", failureLabel(result.ErrorKind))
	}
	if err := o.store.Append(ctx, b.SessionID, NewMessage(SenderAgent, text)); err != nil {
		logger.L().Error("写回执行结果失败",
			slog.Any("error", err),
			slog.String("session_id", b.SessionID),
			slog.String("bundle_id", b.ID),
		)
	}
}

func (o *Orchestrator) acquire(sessionID string) bool {
	o.inflightMu.Lock()
	defer o.inflightMu.Unlock()
	if _, busy := o.inflight[sessionID]; busy {
		return false
	}
	o.inflight[sessionID] = struct{}{}
	return true
}

func (o *Orchestrator) release(sessionID string) {
	o.inflightMu.Lock()
	delete(o.inflight, sessionID)
	o.inflightMu.Unlock()
}

func describe(intents []intent.Intent) string {
	kinds := make([]string, 0, len(intents))
	for _, item := range intents {
		kinds = append(kinds, string(item.Kind))
	}
	return strings.Join(kinds, ", ")
}

func failureLabel(kind string) string {
	switch kind {
	case executor.ErrorKindSigning:
		return "钱包签名被拒绝"
	case executor.ErrorKindEncoding:
		return "调用编码失败"
	case executor.ErrorKindRelay:
		return "执行网关提交失败"
	default:
		return "内部错误"
	}
}
