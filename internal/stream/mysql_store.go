package stream

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"

	xerrors "github.com/nikdmello/swift/internal/errors"
	storage "github.com/nikdmello/swift/internal/storage/mysql"
)

// MySQLStore 使用 MySQL 持久化支付流记录。每个地址对的历代记录以
// (sender, recipient, seq) 为主键保存，乐观并发控制依赖 version 列。
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
	const schema = `CREATE TABLE IF NOT EXISTS streams (
        sender CHAR(42) NOT NULL,
        recipient CHAR(42) NOT NULL,
        seq BIGINT UNSIGNED NOT NULL,
        status VARCHAR(16) NOT NULL,
        start_time BIGINT NOT NULL,
        duration BIGINT NOT NULL,
        last_update BIGINT NOT NULL,
        flow_rate DECIMAL(65,0) NOT NULL,
        balance DECIMAL(65,0) NOT NULL,
        deposited DECIMAL(65,0) NOT NULL,
        withdrawn DECIMAL(65,0) NOT NULL DEFAULT 0,
        refunded DECIMAL(65,0) NOT NULL DEFAULT 0,
        version BIGINT UNSIGNED NOT NULL DEFAULT 1,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        PRIMARY KEY (sender, recipient, seq),
        INDEX idx_stream_status (status),
        INDEX idx_stream_updated (updated_at),
        INDEX idx_stream_recipient (recipient)
)`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 streams 表失败")
	}
	return nil
}

const streamColumns = `sender, recipient, seq, status, start_time, duration, last_update,
        flow_rate, balance, deposited, withdrawn, refunded, version, created_at, updated_at`

// Create 插入地址对的新一代记录。并发开流由主键冲突兜底。
func (s *MySQLStore) Create(ctx context.Context, record *Stream) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "stream 不能为空")
	}

	latest, err := s.Get(ctx, record.Sender, record.Recipient)
	if err != nil && !stdErrors.Is(err, ErrStreamNotFound) {
		return err
	}
	if latest.Active() {
		return ErrStreamAlreadyActive
	}

	now := time.Now().Unix()
	record.CreatedAt = now
	record.UpdatedAt = now
	record.Version = 1
	record.Seq = 1
	if latest != nil {
		record.Seq = latest.Seq + 1
	}

	const stmt = `INSERT INTO streams (` + streamColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, stmt,
		addressValue(record.Sender),
		addressValue(record.Recipient),
		record.Seq,
		record.Status,
		record.StartTime,
		record.Duration,
		record.LastUpdate,
		amountValue(record.FlowRate),
		amountValue(record.Balance),
		amountValue(record.Deposited),
		amountValue(record.Withdrawn),
		amountValue(record.Refunded),
		record.Version,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			// 另一个进程抢先插入了同代记录。
			return ErrStreamAlreadyActive
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入支付流失败")
	}
	return nil
}

// Get 查询地址对的最新一条记录。
func (s *MySQLStore) Get(ctx context.Context, sender, recipient common.Address) (*Stream, error) {
	const stmt = `SELECT ` + streamColumns + ` FROM streams
        WHERE sender = ? AND recipient = ? ORDER BY seq DESC LIMIT 1`

	row := s.db.QueryRowContext(ctx, stmt, addressValue(sender), addressValue(recipient))
	record, err := scanStream(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrStreamNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付流失败")
	}
	return record, nil
}

// Update 以 version 做条件更新，版本不匹配返回 ErrVersionConflict。
func (s *MySQLStore) Update(ctx context.Context, record *Stream) error {
	if record == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "stream 不能为空")
	}

	const stmt = `UPDATE streams SET status = ?, last_update = ?, balance = ?, withdrawn = ?,
        refunded = ?, version = version + 1, updated_at = ?
        WHERE sender = ? AND recipient = ? AND seq = ? AND version = ?`

	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx, stmt,
		record.Status,
		record.LastUpdate,
		amountValue(record.Balance),
		amountValue(record.Withdrawn),
		amountValue(record.Refunded),
		now,
		addressValue(record.Sender),
		addressValue(record.Recipient),
		record.Seq,
		record.Version,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新支付流失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, record.Sender, record.Recipient); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}
	record.Version++
	record.UpdatedAt = now
	return nil
}

// History 返回地址对从旧到新的全部记录。
func (s *MySQLStore) History(ctx context.Context, sender, recipient common.Address) ([]*Stream, error) {
	const stmt = `SELECT ` + streamColumns + ` FROM streams
        WHERE sender = ? AND recipient = ? ORDER BY seq ASC`

	rows, err := s.db.QueryContext(ctx, stmt, addressValue(sender), addressValue(recipient))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付流历史失败")
	}
	defer rows.Close()

	var result []*Stream
	for rows.Next() {
		record, err := scanStream(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付流记录失败")
		}
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付流历史失败")
	}
	return result, nil
}

// List 返回符合过滤条件的最新代记录。
func (s *MySQLStore) List(ctx context.Context, opts ListOptions) ([]*Stream, error) {
	opts.applyDefaults()

	query := `SELECT ` + streamColumns + ` FROM streams t
        WHERE t.seq = (SELECT MAX(seq) FROM streams WHERE sender = t.sender AND recipient = t.recipient)`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " AND " + clause
	}

	order := " ORDER BY updated_at DESC, sender ASC, recipient ASC"
	if opts.Order == SortByUpdatedAsc {
		order = " ORDER BY updated_at ASC, sender ASC, recipient ASC"
	}
	query += order + " LIMIT ? OFFSET ?"

	args := append(filterArgs, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付流列表失败")
	}
	defer rows.Close()

	streams := make([]*Stream, 0, opts.Limit)
	for rows.Next() {
		record, err := scanStream(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析支付流记录失败")
		}
		streams = append(streams, record)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历支付流失败")
	}
	return streams, nil
}

// Stats 返回符合过滤条件的聚合信息。金额合计在 SQL 内完成，
// DECIMAL 求和结果按字符串取回后还原为大整数。
func (s *MySQLStore) Stats(ctx context.Context, opts ListOptions) (LedgerStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*) AS total,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS active,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS cancelled,
        SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS expired,
        COALESCE(CAST(SUM(balance) AS CHAR), '0') AS escrow_balance,
        COALESCE(CAST(SUM(deposited) AS CHAR), '0') AS total_deposited,
        COALESCE(CAST(SUM(withdrawn) AS CHAR), '0') AS total_withdrawn,
        COALESCE(CAST(SUM(refunded) AS CHAR), '0') AS total_refunded,
        COALESCE(MIN(updated_at), 0) AS oldest,
        COALESCE(MAX(updated_at), 0) AS newest
        FROM streams t
        WHERE t.seq = (SELECT MAX(seq) FROM streams WHERE sender = t.sender AND recipient = t.recipient)`

	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " AND " + clause
	}

	args := []any{string(StatusActive), string(StatusCancelled), string(StatusExpired)}
	args = append(args, filterArgs...)

	row := s.db.QueryRowContext(ctx, query, args...)

	stats := newLedgerStats()
	var escrow, deposited, withdrawn, refunded string
	if err := row.Scan(
		&stats.Total,
		&stats.Active,
		&stats.Cancelled,
		&stats.Expired,
		&escrow,
		&deposited,
		&withdrawn,
		&refunded,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return LedgerStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询支付流统计失败")
	}
	var err error
	if stats.EscrowBalance, err = parseAmount(escrow); err != nil {
		return LedgerStats{}, err
	}
	if stats.TotalDeposited, err = parseAmount(deposited); err != nil {
		return LedgerStats{}, err
	}
	if stats.TotalWithdrawn, err = parseAmount(withdrawn); err != nil {
		return LedgerStats{}, err
	}
	if stats.TotalRefunded, err = parseAmount(refunded); err != nil {
		return LedgerStats{}, err
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
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

func scanStream(row rowScanner) (*Stream, error) {
	var record Stream
	var sender, recipient, status string
	var flowRate, balance, deposited, withdrawn, refunded string

	if err := row.Scan(
		&sender,
		&recipient,
		&record.Seq,
		&status,
		&record.StartTime,
		&record.Duration,
		&record.LastUpdate,
		&flowRate,
		&balance,
		&deposited,
		&withdrawn,
		&refunded,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}

	record.Sender = common.HexToAddress(sender)
	record.Recipient = common.HexToAddress(recipient)
	record.Status = Status(status)

	var err error
	if record.FlowRate, err = parseAmount(flowRate); err != nil {
		return nil, err
	}
	if record.Balance, err = parseAmount(balance); err != nil {
		return nil, err
	}
	if record.Deposited, err = parseAmount(deposited); err != nil {
		return nil, err
	}
	if record.Withdrawn, err = parseAmount(withdrawn); err != nil {
		return nil, err
	}
	if record.Refunded, err = parseAmount(refunded); err != nil {
		return nil, err
	}
	return &record, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 4)
	args := make([]any, 0, 6)

	if len(opts.Statuses) > 0 {
		placeholders := make([]string, 0, len(opts.Statuses))
		for range opts.Statuses {
			placeholders = append(placeholders, "?")
		}
		conditions = append(conditions, fmt.Sprintf("t.status IN (%s)", strings.Join(placeholders, ",")))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if opts.Participant != nil {
		conditions = append(conditions, "(t.sender = ? OR t.recipient = ?)")
		args = append(args, addressValue(*opts.Participant), addressValue(*opts.Participant))
	}
	if opts.Sender != nil {
		conditions = append(conditions, "t.sender = ?")
		args = append(args, addressValue(*opts.Sender))
	}
	if opts.Recipient != nil {
		conditions = append(conditions, "t.recipient = ?")
		args = append(args, addressValue(*opts.Recipient))
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "t.updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "t.updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

func addressValue(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func amountValue(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return new(big.Int), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("非法金额字段: %q", raw))
	}
	return value, nil
}

var _ Store = (*MySQLStore)(nil)
