package conversation

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	xerrors "ChainPilot/internal/errors"
)

// MySQLStore 使用 MySQL 保存会话与消息日志。
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
	const sessions = `CREATE TABLE IF NOT EXISTS conversation_sessions (
        id VARCHAR(64) PRIMARY KEY,
        wallet VARCHAR(64) DEFAULT '',
        chain VARCHAR(32) DEFAULT '',
        created_at BIGINT NOT NULL
)`
	const messages = `CREATE TABLE IF NOT EXISTS conversation_messages (
        id VARCHAR(64) PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        sender VARCHAR(16) NOT NULL,
        text TEXT NOT NULL,
        seq BIGINT NOT NULL AUTO_INCREMENT,
        created_at BIGINT NOT NULL,
        INDEX idx_message_session (session_id, seq),
        UNIQUE KEY uk_message_seq (seq)
)`

	if _, err := s.db.Exec(sessions); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 conversation_sessions 表失败")
	}
	if _, err := s.db.Exec(messages); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 conversation_messages 表失败")
	}
	return nil
}

// CreateSession 插入新的会话记录。
func (s *MySQLStore) CreateSession(ctx context.Context, session *Session) error {
	if session == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "session 不能为空")
	}
	if strings.TrimSpace(session.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "会话 ID 不能为空")
	}
	if session.CreatedAt == 0 {
		session.CreatedAt = time.Now().Unix()
	}

	const stmt = `INSERT INTO conversation_sessions (id, wallet, chain, created_at) VALUES (?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt, session.ID, session.Wallet, session.Chain, session.CreatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return ErrSessionConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入会话失败")
	}
	return nil
}

// GetSession 查询指定会话。
func (s *MySQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	const stmt = `SELECT id, wallet, chain, created_at FROM conversation_sessions WHERE id = ?`

	var session Session
	err := s.db.QueryRowContext(ctx, stmt, id).Scan(
		&session.ID,
		&session.Wallet,
		&session.Chain,
		&session.CreatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询会话失败")
	}
	return &session, nil
}

// Append 向会话日志追加一条消息。
func (s *MySQLStore) Append(ctx context.Context, sessionID string, msg Message) error {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}
	const stmt = `INSERT INTO conversation_messages (id, session_id, sender, text, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt, msg.ID, sessionID, msg.Sender, msg.Text, msg.CreatedAt); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入消息失败")
	}
	return nil
}

// Messages 按追加顺序返回会话的全部消息。
func (s *MySQLStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	const stmt = `SELECT id, sender, text, created_at FROM conversation_messages WHERE session_id = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, stmt, sessionID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询消息失败")
	}
	defer rows.Close()

	messages := make([]Message, 0, 16)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析消息记录失败")
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历消息失败")
	}
	return messages, nil
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ Store = (*MySQLStore)(nil)
