package bundle

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
	"ChainPilot/pkg/logger"
)

// DefaultReviewTimeout 是交易包等待人工确认的默认时长。
// 到期仅作为惰性的界面兜底：过期的交易包在下次访问时被置为
// superseded，安全保证始终来自"未批准不执行"。
const DefaultReviewTimeout = 30 * time.Second

// Service 负责交易包的暂存、审批与入队。
type Service struct {
	store         Store
	producer      Producer
	reviewTimeout time.Duration
	now           func() time.Time
}

// ServiceOption 定义可选配置。
type ServiceOption func(*Service)

// WithReviewTimeout 覆盖默认的人工确认等待时长。
func WithReviewTimeout(timeout time.Duration) ServiceOption {
	return func(s *Service) {
		if timeout > 0 {
			s.reviewTimeout = timeout
		}
	}
}

// WithClock 注入时钟，主要用于测试。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService 构造交易包服务。
func NewService(store Store, producer Producer, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		producer:      producer,
		reviewTimeout: DefaultReviewTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Stage 为会话暂存一个新的待审交易包。若会话已有待审交易包，
// 旧包被置为 superseded 后再创建新包：新一轮对话总是胜出。
func (s *Service) Stage(ctx context.Context, sessionID, wallet, description string, intents []intent.Intent) (*Bundle, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易包服务未初始化")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	if len(intents) == 0 {
		return nil, xerrors.New(CodeBundleStage, "交易包必须包含至少一个意图")
	}

	active, err := s.store.ActiveForSession(ctx, sessionID)
	if err != nil && !stdErrors.Is(err, ErrBundleNotFound) {
		return nil, err
	}
	if active != nil {
		if active.State != StatePendingReview {
			// 已批准或执行中的交易包不可被新一轮对话替换。
			return nil, ErrBundleConflict
		}
		if _, err := s.store.Supersede(ctx, active.ID); err != nil && !stdErrors.Is(err, ErrBundleTerminal) {
			return nil, err
		}
		logger.Audit().Info("旧交易包被新一轮对话替换",
			slog.String("session_id", sessionID),
			slog.String("superseded_bundle_id", active.ID),
		)
	}

	b := &Bundle{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Wallet:      wallet,
		Description: description,
		Intents:     intent.CloneAll(intents),
		State:       StatePendingReview,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	logger.Audit().Info("交易包已暂存待审",
		slog.String("session_id", sessionID),
		slog.String("bundle_id", b.ID),
		slog.Int("intent_count", len(b.Intents)),
	)
	return s.store.Get(ctx, b.ID)
}

// Approve 批准会话当前的待审交易包并投递到执行队列。
// 这是 pending_review → approved 的唯一入口。
func (s *Service) Approve(ctx context.Context, sessionID string) (*Bundle, error) {
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易包服务未初始化")
	}
	active, err := s.Active(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if active.State != StatePendingReview {
		if IsTerminal(active.State) {
			return active, ErrBundleTerminal
		}
		return active, ErrBundleConflict
	}

	approved, err := s.store.Approve(ctx, active.ID)
	if err != nil {
		return approved, err
	}
	if err := s.producer.Publish(ctx, approved.ID); err != nil {
		logger.L().Error("交易包入队失败", slog.Any("error", err), slog.String("bundle_id", approved.ID))
		wrapped := xerrors.Wrap(CodeBundlePublish, err, "发布交易包到执行队列失败")
		_ = s.store.MarkFailed(ctx, approved.ID, "internal", wrapped.Error())
		return nil, wrapped
	}
	logger.Audit().Info("交易包已批准并入队",
		slog.String("session_id", sessionID),
		slog.String("bundle_id", approved.ID),
		slog.Int("intent_count", len(approved.Intents)),
	)
	return approved, nil
}

// Reject 拒绝会话当前的待审交易包，没有任何链上影响。
func (s *Service) Reject(ctx context.Context, sessionID string) (*Bundle, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易包服务未初始化")
	}
	active, err := s.Active(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	rejected, err := s.store.Reject(ctx, active.ID)
	if err != nil {
		return rejected, err
	}
	logger.Audit().Info("交易包已被用户拒绝",
		slog.String("session_id", sessionID),
		slog.String("bundle_id", rejected.ID),
	)
	return rejected, nil
}

// Active 返回会话当前的非终态交易包。超过确认时长的待审交易包
// 在此处被惰性置为 superseded 并按不存在处理。
func (s *Service) Active(ctx context.Context, sessionID string) (*Bundle, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易包服务未初始化")
	}
	active, err := s.store.ActiveForSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if active.State == StatePendingReview && s.expired(active) {
		if _, err := s.store.Supersede(ctx, active.ID); err != nil && !stdErrors.Is(err, ErrBundleTerminal) {
			return nil, err
		}
		logger.Audit().Info("交易包确认超时",
			slog.String("session_id", sessionID),
			slog.String("bundle_id", active.ID),
		)
		return nil, ErrBundleNotFound
	}
	return active, nil
}

// Get 返回指定交易包的快照。
func (s *Service) Get(ctx context.Context, id string) (*Bundle, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易包存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回会话的历史交易包。
func (s *Service) List(ctx context.Context, sessionID string, limit int) ([]*Bundle, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "交易包存储未初始化")
	}
	return s.store.List(ctx, sessionID, limit)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

func (s *Service) expired(b *Bundle) bool {
	if s.reviewTimeout <= 0 {
		return false
	}
	created := time.Unix(b.CreatedAt, 0)
	return s.now().Sub(created) > s.reviewTimeout
}
