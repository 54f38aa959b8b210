package bundle

import (
	"context"
	"sort"
	"sync"
	"time"

	xerrors "ChainPilot/internal/errors"
)

// MemoryStore 以内存方式保存交易包状态，主要用于测试与单机部署。
type MemoryStore struct {
	mu      sync.RWMutex
	bundles map[string]*Bundle
	// active 记录每个会话当前的非终态交易包。
	active map[string]string
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bundles: make(map[string]*Bundle),
		active:  make(map[string]string),
	}
}

// Create 实现 Store 接口。同一会话存在非终态交易包时拒绝创建。
func (m *MemoryStore) Create(_ context.Context, b *Bundle) error {
	if b == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "bundle 不能为空")
	}
	if b.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易包 ID 不能为空")
	}
	if b.SessionID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	if len(b.Intents) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易包必须包含至少一个意图")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bundles[b.ID]; ok {
		return ErrBundleConflict
	}
	if _, ok := m.active[b.SessionID]; ok {
		return ErrBundleConflict
	}
	now := time.Now().Unix()
	if b.CreatedAt == 0 {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
	if b.State == "" {
		b.State = StatePendingReview
	}
	m.bundles[b.ID] = cloneBundle(b)
	if !IsTerminal(b.State) {
		m.active[b.SessionID] = b.ID
	}
	return nil
}

// Get 返回交易包快照。
func (m *MemoryStore) Get(_ context.Context, id string) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bundles[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return cloneBundle(b), nil
}

// ActiveForSession 返回会话当前的非终态交易包。
func (m *MemoryStore) ActiveForSession(_ context.Context, sessionID string) (*Bundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[sessionID]
	if !ok {
		return nil, ErrBundleNotFound
	}
	b, ok := m.bundles[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	return cloneBundle(b), nil
}

// Approve 实现 pending_review → approved。
func (m *MemoryStore) Approve(_ context.Context, id string) (*Bundle, error) {
	return m.transition(id, StatePendingReview, StateApproved)
}

// Reject 实现 pending_review → rejected。
func (m *MemoryStore) Reject(_ context.Context, id string) (*Bundle, error) {
	return m.transition(id, StatePendingReview, StateRejected)
}

// Supersede 实现 pending_review → superseded。
func (m *MemoryStore) Supersede(_ context.Context, id string) (*Bundle, error) {
	return m.transition(id, StatePendingReview, StateSuperseded)
}

// Claim 实现 approved → executing。
func (m *MemoryStore) Claim(_ context.Context, id string) (*Bundle, error) {
	return m.transition(id, StateApproved, StateExecuting)
}

func (m *MemoryStore) transition(id string, from, to State) (*Bundle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[id]
	if !ok {
		return nil, ErrBundleNotFound
	}
	if b.State != from {
		if IsTerminal(b.State) {
			return cloneBundle(b), ErrBundleTerminal
		}
		return cloneBundle(b), ErrBundleConflict
	}
	b.State = to
	b.UpdatedAt = time.Now().Unix()
	if IsTerminal(to) {
		m.releaseActive(b)
	}
	return cloneBundle(b), nil
}

// MarkExecuted 记录成功结果并进入终态。
func (m *MemoryStore) MarkExecuted(_ context.Context, id string, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[id]
	if !ok {
		return ErrBundleNotFound
	}
	if b.State != StateExecuting {
		if IsTerminal(b.State) {
			return ErrBundleTerminal
		}
		return ErrBundleConflict
	}
	b.State = StateExecuted
	b.TxHash = txHash
	b.ErrorKind = ""
	b.LastError = ""
	b.UpdatedAt = time.Now().Unix()
	m.releaseActive(b)
	return nil
}

// MarkFailed 将交易包置为终态 execution_failed，执行永不重试。
func (m *MemoryStore) MarkFailed(_ context.Context, id string, errorKind, lastError string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bundles[id]
	if !ok {
		return ErrBundleNotFound
	}
	if b.State != StateExecuting && b.State != StateApproved {
		if IsTerminal(b.State) {
			return ErrBundleTerminal
		}
		return ErrBundleConflict
	}
	b.State = StateExecutionFailed
	b.ErrorKind = errorKind
	b.LastError = lastError
	b.UpdatedAt = time.Now().Unix()
	m.releaseActive(b)
	return nil
}

// List 按更新时间倒序返回会话的历史交易包。
func (m *MemoryStore) List(_ context.Context, sessionID string, limit int) ([]*Bundle, error) {
	if limit <= 0 {
		limit = 20
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make([]*Bundle, 0, limit)
	for _, b := range m.bundles {
		if sessionID != "" && b.SessionID != sessionID {
			continue
		}
		results = append(results, cloneBundle(b))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].UpdatedAt == results[j].UpdatedAt {
			if results[i].CreatedAt == results[j].CreatedAt {
				return results[i].ID < results[j].ID
			}
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func (m *MemoryStore) releaseActive(b *Bundle) {
	if id, ok := m.active[b.SessionID]; ok && id == b.ID {
		delete(m.active, b.SessionID)
	}
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
