package bundle

import "context"

// Store 抽象了交易包状态的持久化接口。所有状态流转都必须
// 经过对应的方法，非法流转返回 ErrBundleConflict 或 ErrBundleTerminal。
type Store interface {
	Create(ctx context.Context, b *Bundle) error
	Get(ctx context.Context, id string) (*Bundle, error)
	// ActiveForSession 返回会话当前唯一的非终态交易包。
	ActiveForSession(ctx context.Context, sessionID string) (*Bundle, error)
	// Approve 执行 pending_review → approved。
	Approve(ctx context.Context, id string) (*Bundle, error)
	// Reject 执行 pending_review → rejected。
	Reject(ctx context.Context, id string) (*Bundle, error)
	// Supersede 执行 pending_review → superseded。
	Supersede(ctx context.Context, id string) (*Bundle, error)
	// Claim 执行 approved → executing，由执行器独占领取。
	Claim(ctx context.Context, id string) (*Bundle, error)
	// MarkExecuted 执行 executing → executed 并记录交易哈希。
	MarkExecuted(ctx context.Context, id string, txHash string) error
	// MarkFailed 将交易包置为终态 execution_failed。接受 approved
	// 与 executing 两个入口状态：入队失败发生在领取之前。
	MarkFailed(ctx context.Context, id string, errorKind, lastError string) error
	List(ctx context.Context, sessionID string, limit int) ([]*Bundle, error)
	Close() error
}
