package registry

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
	storage "github.com/nikdmello/swift/internal/storage/mysql"
)

// MySQLStore 将智能体与服务挂牌信息持久化到 MySQL。
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
	statements := []string{
		`CREATE TABLE IF NOT EXISTS agents (
        address CHAR(42) NOT NULL,
        name VARCHAR(128) NOT NULL DEFAULT '',
        endpoint VARCHAR(255) NOT NULL DEFAULT '',
        registered_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        PRIMARY KEY (address)
)`,
		`CREATE TABLE IF NOT EXISTS services (
        provider CHAR(42) NOT NULL,
        name VARCHAR(128) NOT NULL,
        description VARCHAR(255) NOT NULL DEFAULT '',
        price_wei DECIMAL(65,0) NOT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        PRIMARY KEY (provider, name),
        INDEX idx_service_name (name)
)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化注册中心表失败")
		}
	}
	return nil
}

// PutAgent 写入或更新智能体记录，重复注册只刷新更新时间。
func (s *MySQLStore) PutAgent(ctx context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}

	const stmt = `INSERT INTO agents (address, name, endpoint, registered_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE name = VALUES(name), endpoint = VALUES(endpoint), updated_at = VALUES(updated_at)`

	now := time.Now().Unix()
	if _, err := s.db.ExecContext(ctx, stmt,
		addressKey(agent.Address),
		agent.Name,
		agent.Endpoint,
		now,
		now,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存智能体失败")
	}
	agent.UpdatedAt = now
	if agent.RegisteredAt == 0 {
		agent.RegisteredAt = now
	}
	return nil
}

// GetAgent 按地址查询智能体。
func (s *MySQLStore) GetAgent(ctx context.Context, addr common.Address) (*Agent, error) {
	const stmt = `SELECT address, name, endpoint, registered_at, updated_at FROM agents WHERE address = ?`

	var agent Agent
	var address string
	err := s.db.QueryRowContext(ctx, stmt, addressKey(addr)).Scan(
		&address,
		&agent.Name,
		&agent.Endpoint,
		&agent.RegisteredAt,
		&agent.UpdatedAt,
	)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrAgentNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体失败")
	}
	agent.Address = common.HexToAddress(address)
	return &agent, nil
}

// ListAgents 按注册时间先后返回全部智能体。
func (s *MySQLStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	const stmt = `SELECT address, name, endpoint, registered_at, updated_at FROM agents
        ORDER BY registered_at ASC, address ASC`

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询智能体列表失败")
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var agent Agent
		var address string
		if err := rows.Scan(&address, &agent.Name, &agent.Endpoint, &agent.RegisteredAt, &agent.UpdatedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析智能体记录失败")
		}
		agent.Address = common.HexToAddress(address)
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历智能体列表失败")
	}
	return agents, nil
}

// PutService 发布或更新服务报价。
func (s *MySQLStore) PutService(ctx context.Context, offering *ServiceOffering) error {
	if offering == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "service 不能为空")
	}

	const stmt = `INSERT INTO services (provider, name, description, price_wei, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE description = VALUES(description), price_wei = VALUES(price_wei), updated_at = VALUES(updated_at)`

	now := time.Now().Unix()
	name := NormalizeServiceName(offering.Name)
	if _, err := s.db.ExecContext(ctx, stmt,
		addressKey(offering.Provider),
		name,
		offering.Description,
		priceValue(offering.PriceWei),
		now,
		now,
	); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存服务失败")
	}
	offering.Name = name
	offering.UpdatedAt = now
	if offering.CreatedAt == 0 {
		offering.CreatedAt = now
	}
	return nil
}

// GetService 查询提供方的指定服务。
func (s *MySQLStore) GetService(ctx context.Context, provider common.Address, name string) (*ServiceOffering, error) {
	const stmt = `SELECT provider, name, description, CAST(price_wei AS CHAR), created_at, updated_at
        FROM services WHERE provider = ? AND name = ?`

	row := s.db.QueryRowContext(ctx, stmt, addressKey(provider), NormalizeServiceName(name))
	offering, err := scanOffering(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询服务失败")
	}
	return offering, nil
}

// ListServices 按服务名排序返回提供方的全部服务。
func (s *MySQLStore) ListServices(ctx context.Context, provider common.Address) ([]*ServiceOffering, error) {
	const stmt = `SELECT provider, name, description, CAST(price_wei AS CHAR), created_at, updated_at
        FROM services WHERE provider = ? ORDER BY name ASC`

	return s.queryOfferings(ctx, stmt, addressKey(provider))
}

// FindProviders 按服务名检索，价格从低到高返回。
func (s *MySQLStore) FindProviders(ctx context.Context, name string) ([]*ServiceOffering, error) {
	const stmt = `SELECT provider, name, description, CAST(price_wei AS CHAR), created_at, updated_at
        FROM services WHERE name = ? ORDER BY price_wei ASC, provider ASC`

	return s.queryOfferings(ctx, stmt, NormalizeServiceName(name))
}

// Close 关闭底层数据库连接。
func (s *MySQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *MySQLStore) queryOfferings(ctx context.Context, stmt string, args ...any) ([]*ServiceOffering, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询服务列表失败")
	}
	defer rows.Close()

	var offerings []*ServiceOffering
	for rows.Next() {
		offering, err := scanOffering(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析服务记录失败")
		}
		offerings = append(offerings, offering)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历服务列表失败")
	}
	return offerings, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOffering(row rowScanner) (*ServiceOffering, error) {
	var offering ServiceOffering
	var provider, price string
	if err := row.Scan(
		&provider,
		&offering.Name,
		&offering.Description,
		&price,
		&offering.CreatedAt,
		&offering.UpdatedAt,
	); err != nil {
		return nil, err
	}
	offering.Provider = common.HexToAddress(provider)

	value, ok := new(big.Int).SetString(strings.TrimSpace(price), 10)
	if !ok {
		return nil, xerrors.New(xerrors.CodeStorageFailure, fmt.Sprintf("非法价格字段: %q", price))
	}
	offering.PriceWei = value
	return &offering, nil
}

func priceValue(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var _ Store = (*MySQLStore)(nil)
