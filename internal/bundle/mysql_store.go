package bundle

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ChainPilot/internal/errors"
	"ChainPilot/internal/intent"
)

// MySQLStore 使用 MySQL 记录交易包状态。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 创建一个新的 MySQLStore。
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "MySQL DSN 不能为空")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 MySQL")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema() error {
	const schema = `CREATE TABLE IF NOT EXISTS bundle_states (
        id VARCHAR(64) PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        wallet VARCHAR(64) DEFAULT '',
        description TEXT,
        intents TEXT NOT NULL,
        state VARCHAR(32) NOT NULL,
        tx_hash VARCHAR(66) DEFAULT '',
        error_kind VARCHAR(32) DEFAULT '',
        last_error TEXT,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_bundle_session (session_id),
        INDEX idx_bundle_state (state),
        INDEX idx_bundle_updated (updated_at)
)`

	if _, err := s.db.Exec(schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 bundle_states 表失败")
	}
	return nil
}

// Create 插入新的交易包记录。同一会话存在非终态交易包时拒绝创建。
func (s *MySQLStore) Create(ctx context.Context, b *Bundle) error {
	if b == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "bundle 不能为空")
	}
	if strings.TrimSpace(b.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易包 ID 不能为空")
	}
	if strings.TrimSpace(b.SessionID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	if len(b.Intents) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "交易包必须包含至少一个意图")
	}

	active, err := s.ActiveForSession(ctx, b.SessionID)
	if err != nil && !stdErrors.Is(err, ErrBundleNotFound) {
		return err
	}
	if active != nil {
		return ErrBundleConflict
	}

	now := time.Now().Unix()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.State == "" {
		b.State = StatePendingReview
	}

	encoded, err := json.Marshal(b.Intents)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码交易包意图失败")
	}

	const stmt = `INSERT INTO bundle_states
        (id, session_id, wallet, description, intents, state, tx_hash, error_kind, last_error, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, '', '', '', ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		b.ID,
		b.SessionID,
		b.Wallet,
		b.Description,
		string(encoded),
		b.State,
		b.CreatedAt,
		b.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrBundleConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入交易包失败")
	}
	return nil
}

// Get 查询指定交易包。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Bundle, error) {
	const stmt = `SELECT id, session_id, wallet, description, intents, state, tx_hash, error_kind, last_error, created_at, updated_at
        FROM bundle_states WHERE id = ?`
	return s.scanOne(s.db.QueryRowContext(ctx, stmt, id))
}

// ActiveForSession 返回会话当前的非终态交易包。
func (s *MySQLStore) ActiveForSession(ctx context.Context, sessionID string) (*Bundle, error) {
	const stmt = `SELECT id, session_id, wallet, description, intents, state, tx_hash, error_kind, last_error, created_at, updated_at
        FROM bundle_states WHERE session_id = ? AND state IN (?, ?, ?)
        ORDER BY created_at DESC LIMIT 1`
	return s.scanOne(s.db.QueryRowContext(ctx, stmt, sessionID,
		StatePendingReview, StateApproved, StateExecuting))
}

// Approve 实现 pending_review → approved。
func (s *MySQLStore) Approve(ctx context.Context, id string) (*Bundle, error) {
	return s.transition(ctx, id, StatePendingReview, StateApproved)
}

// Reject 实现 pending_review → rejected。
func (s *MySQLStore) Reject(ctx context.Context, id string) (*Bundle, error) {
	return s.transition(ctx, id, StatePendingReview, StateRejected)
}

// Supersede 实现 pending_review → superseded。
func (s *MySQLStore) Supersede(ctx context.Context, id string) (*Bundle, error) {
	return s.transition(ctx, id, StatePendingReview, StateSuperseded)
}

// Claim 实现 approved → executing，借助行更新保证单个执行者领取。
func (s *MySQLStore) Claim(ctx context.Context, id string) (*Bundle, error) {
	return s.transition(ctx, id, StateApproved, StateExecuting)
}

func (s *MySQLStore) transition(ctx context.Context, id string, from, to State) (*Bundle, error) {
	const stmt = `UPDATE bundle_states SET state = ?, updated_at = ? WHERE id = ? AND state = ?`

	res, err := s.db.ExecContext(ctx, stmt, to, time.Now().Unix(), id, from)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新交易包状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		b, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if IsTerminal(b.State) {
			return b, ErrBundleTerminal
		}
		return b, ErrBundleConflict
	}
	return s.Get(ctx, id)
}

// MarkExecuted 记录交易哈希并进入终态。
func (s *MySQLStore) MarkExecuted(ctx context.Context, id string, txHash string) error {
	const stmt = `UPDATE bundle_states SET state = ?, tx_hash = ?, error_kind = '', last_error = '', updated_at = ?
        WHERE id = ? AND state = ?`

	res, err := s.db.ExecContext(ctx, stmt, StateExecuted, txHash, time.Now().Unix(), id, StateExecuting)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记交易包成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return s.explainStall(ctx, id)
	}
	return nil
}

// MarkFailed 将交易包置为终态 execution_failed。
func (s *MySQLStore) MarkFailed(ctx context.Context, id string, errorKind, lastError string) error {
	const stmt = `UPDATE bundle_states SET state = ?, error_kind = ?, last_error = ?, updated_at = ?
        WHERE id = ? AND state IN (?, ?)`

	res, err := s.db.ExecContext(ctx, stmt,
		StateExecutionFailed, errorKind, lastError, time.Now().Unix(),
		id, StateApproved, StateExecuting)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记交易包失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return s.explainStall(ctx, id)
	}
	return nil
}

func (s *MySQLStore) explainStall(ctx context.Context, id string) error {
	b, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if IsTerminal(b.State) {
		return ErrBundleTerminal
	}
	return ErrBundleConflict
}

// List 按更新时间倒序返回会话的历史交易包。
func (s *MySQLStore) List(ctx context.Context, sessionID string, limit int) ([]*Bundle, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, session_id, wallet, description, intents, state, tx_hash, error_kind, last_error, created_at, updated_at
        FROM bundle_states`
	args := make([]any, 0, 2)
	if sessionID != "" {
		query += " WHERE session_id = ?"
		args = append(args, sessionID)
	}
	query += " ORDER BY updated_at DESC, created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询交易包列表失败")
	}
	defer rows.Close()

	bundles := make([]*Bundle, 0, limit)
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, b)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历交易包失败")
	}
	return bundles, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *MySQLStore) scanOne(row *sql.Row) (*Bundle, error) {
	b, err := scanBundle(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrBundleNotFound
		}
		return nil, err
	}
	return b, nil
}

func scanBundle(row rowScanner) (*Bundle, error) {
	var b Bundle
	var encoded string
	var description sql.NullString
	var lastError sql.NullString

	if err := row.Scan(
		&b.ID,
		&b.SessionID,
		&b.Wallet,
		&description,
		&encoded,
		&b.State,
		&b.TxHash,
		&b.ErrorKind,
		&lastError,
		&b.CreatedAt,
		&b.UpdatedAt,
	); err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易包记录失败")
	}
	b.Description = description.String
	b.LastError = lastError.String

	var intents []intent.Intent
	if strings.TrimSpace(encoded) != "" {
		if err := json.Unmarshal([]byte(encoded), &intents); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析交易包意图失败")
		}
	}
	b.Intents = intents
	return &b, nil
}

var _ Store = (*MySQLStore)(nil)
