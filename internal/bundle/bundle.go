package bundle

import (
	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
)

// State 表示交易包在生命周期中的状态。
type State string

const (
	StatePendingReview   State = "pending_review"
	StateApproved        State = "approved"
	StateExecuting       State = "executing"
	StateExecuted        State = "executed"
	StateExecutionFailed State = "execution_failed"
	StateRejected        State = "rejected"
	StateSuperseded      State = "superseded"
)

// IsValidState 检查给定的状态是否为支持的枚举值。
func IsValidState(state State) bool {
	switch state {
	case StatePendingReview, StateApproved, StateExecuting,
		StateExecuted, StateExecutionFailed, StateRejected, StateSuperseded:
		return true
	default:
		return false
	}
}

// IsTerminal 判断状态是否为终态。终态交易包不允许再次流转，
// 失败的交易包必须由新的会话轮次派生出全新的交易包。
func IsTerminal(state State) bool {
	switch state {
	case StateExecuted, StateExecutionFailed, StateRejected, StateSuperseded:
		return true
	default:
		return false
	}
}

// Bundle 描述了等待人工确认后原子执行的一批链上意图。
// 每个会话同一时刻最多持有一个非终态交易包。
type Bundle struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Wallet      string          `json:"wallet"`
	Description string          `json:"description"`
	Intents     []intent.Intent `json:"intents"`
	State       State           `json:"state"`
	TxHash      string          `json:"tx_hash,omitempty"`
	ErrorKind   string          `json:"error_kind,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   int64           `json:"created_at"`
	UpdatedAt   int64           `json:"updated_at"`
}

var (
	// ErrBundleNotFound 表示指定的交易包不存在。
	ErrBundleNotFound = xerrors.New(CodeBundleNotFound, "bundle not found")
	// ErrBundleConflict 表示交易包在当前状态下无法进行所请求的流转。
	ErrBundleConflict = xerrors.New(xerrors.CodeBundleConflict, "bundle state conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrBundleTerminal 表示交易包已处于终态。
	ErrBundleTerminal = xerrors.New(xerrors.CodeBundleTerminal, "bundle already terminal", xerrors.WithSeverity(xerrors.SeverityInfo))
)

const (
	CodeBundleNotFound xerrors.Code = "BUNDLE_NOT_FOUND"
	CodeBundleStage    xerrors.Code = "BUNDLE_STAGE_FAILED"
	CodeBundlePublish  xerrors.Code = "BUNDLE_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeBundleNotFound, xerrors.Attributes{
		Message:   "bundle not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeBundleStage, xerrors.Attributes{
		Message:   "failed to stage bundle",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeBundlePublish, xerrors.Attributes{
		Message:   "failed to publish bundle for execution",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
}

// CanTransition 返回从 from 到 to 的流转是否合法。
// 终态没有任何出边；审批与执行各自只拥有一条前向路径。
func CanTransition(from, to State) bool {
	switch from {
	case StatePendingReview:
		switch to {
		case StateApproved, StateRejected, StateSuperseded:
			return true
		}
	case StateApproved:
		switch to {
		case StateExecuting, StateExecutionFailed:
			return true
		}
	case StateExecuting:
		switch to {
		case StateExecuted, StateExecutionFailed:
			return true
		}
	}
	return false
}

func cloneBundle(b *Bundle) *Bundle {
	if b == nil {
		return nil
	}
	clone := *b
	clone.Intents = intent.CloneAll(b.Intents)
	return &clone
}
