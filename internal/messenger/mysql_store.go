package messenger

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	xerrors "github.com/nikdmello/swift/internal/errors"
	storage "github.com/nikdmello/swift/internal/storage/mysql"
)

// MySQLStore 将消息持久化到 MySQL。
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore 建立连接并初始化表结构。
func NewMySQLStore(ctx context.Context, cfg storage.Config) (*MySQLStore, error) {
	db, err := storage.Open(ctx, cfg)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "连接 MySQL 失败")
	}

	store := &MySQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *MySQLStore) initSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS messages (
        id CHAR(36) NOT NULL,
        sender CHAR(42) NOT NULL,
        recipient CHAR(42) NOT NULL,
        content TEXT NOT NULL,
        stream_seq BIGINT UNSIGNED NOT NULL DEFAULT 0,
        sent_at BIGINT NOT NULL,
        PRIMARY KEY (id),
        INDEX idx_message_inbox (recipient, sent_at)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 messages 表失败")
	}
	return nil
}

// Put 保存一条消息。
func (s *MySQLStore) Put(ctx context.Context, msg *Message) error {
	if msg == nil || msg.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空")
	}

	const stmt = `INSERT INTO messages (id, sender, recipient, content, stream_seq, sent_at)
        VALUES (?, ?, ?, ?, ?, ?)`

	if msg.SentAt == 0 {
		msg.SentAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, stmt,
		msg.ID,
		addressValue(msg.Sender),
		addressValue(msg.Recipient),
		msg.Content,
		msg.StreamSeq,
		msg.SentAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return xerrors.Wrap(xerrors.CodeConflict, err, "消息 ID 重复")
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存消息失败")
	}
	return nil
}

// Get 按 ID 查询消息。
func (s *MySQLStore) Get(ctx context.Context, id string) (*Message, error) {
	const stmt = `SELECT id, sender, recipient, content, stream_seq, sent_at FROM messages WHERE id = ?`

	var msg Message
	var sender, recipient string
	err := s.db.QueryRowContext(ctx, stmt, id).Scan(
		&msg.ID,
		&sender,
		&recipient,
		&msg.Content,
		&msg.StreamSeq,
		&msg.SentAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrMessageNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询消息失败")
	}
	msg.Sender = common.HexToAddress(sender)
	msg.Recipient = common.HexToAddress(recipient)
	return &msg, nil
}

// Inbox 返回收件人最近收到的消息，按送达时间倒序。
func (s *MySQLStore) Inbox(ctx context.Context, recipient common.Address, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = defaultInboxLimit
	}

	const stmt = `SELECT id, sender, recipient, content, stream_seq, sent_at FROM messages
        WHERE recipient = ? ORDER BY sent_at DESC, id ASC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, stmt, addressValue(recipient), limit)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询收件箱失败")
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var msg Message
		var sender, rcpt string
		if err := rows.Scan(&msg.ID, &sender, &rcpt, &msg.Content, &msg.StreamSeq, &msg.SentAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析消息记录失败")
		}
		msg.Sender = common.HexToAddress(sender)
		msg.Recipient = common.HexToAddress(rcpt)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历收件箱失败")
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

func addressValue(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

var _ Store = (*MySQLStore)(nil)
