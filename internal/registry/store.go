package registry

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象注册中心的持久化层。
type Store interface {
	// PutAgent 写入或更新智能体记录，注册是幂等的。
	PutAgent(ctx context.Context, agent *Agent) error
	// GetAgent 按地址查询智能体，不存在时返回 ErrAgentNotFound。
	GetAgent(ctx context.Context, addr common.Address) (*Agent, error)
	// ListAgents 返回全部已注册的智能体。
	ListAgents(ctx context.Context) ([]*Agent, error)

	// PutService 发布服务，同一提供方同名服务视为更新报价。
	PutService(ctx context.Context, offering *ServiceOffering) error
	// GetService 查询提供方的指定服务。
	GetService(ctx context.Context, provider common.Address, name string) (*ServiceOffering, error)
	// ListServices 返回提供方挂牌的全部服务。
	ListServices(ctx context.Context, provider common.Address) ([]*ServiceOffering, error)
	// FindProviders 按服务名检索所有提供方的挂牌记录。
	FindProviders(ctx context.Context, name string) ([]*ServiceOffering, error)

	// Close 释放底层资源。
	Close() error
}
