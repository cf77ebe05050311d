package registry

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
	"github.com/nikdmello/swift/pkg/logger"
)

// Service 是注册中心的业务入口，负责参数校验与审计日志。
type Service struct {
	store Store
}

// NewService 构造注册中心服务。
func NewService(store Store) *Service {
	return &Service{store: store}
}

// RegisterAgent 注册或更新一个智能体。注册是幂等的。
func (s *Service) RegisterAgent(ctx context.Context, addr common.Address, name, endpoint string) (*Agent, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	if addr == (common.Address{}) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "智能体地址不能为空")
	}

	agent := &Agent{
		Address:  addr,
		Name:     strings.TrimSpace(name),
		Endpoint: strings.TrimSpace(endpoint),
	}
	if err := s.store.PutAgent(ctx, agent); err != nil {
		return nil, err
	}
	logger.Audit().Info("智能体已注册",
		slog.String("address", addr.Hex()),
		slog.String("name", agent.Name),
	)
	return agent, nil
}

// IsRegistered 判断地址是否已注册为智能体。
func (s *Service) IsRegistered(ctx context.Context, addr common.Address) (bool, error) {
	if s.store == nil {
		return false, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	if _, err := s.store.GetAgent(ctx, addr); err != nil {
		if stdErrors.Is(err, ErrAgentNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetAgent 按地址查询智能体。
func (s *Service) GetAgent(ctx context.Context, addr common.Address) (*Agent, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	return s.store.GetAgent(ctx, addr)
}

// ListAgents 返回全部已注册的智能体。
func (s *Service) ListAgents(ctx context.Context) ([]*Agent, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	return s.store.ListAgents(ctx)
}

// RegisterService 将服务挂牌到市场。提供方必须先注册为智能体。
func (s *Service) RegisterService(ctx context.Context, provider common.Address, name, description string, priceWei *big.Int) (*ServiceOffering, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	if NormalizeServiceName(name) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "服务名不能为空")
	}
	if priceWei == nil || priceWei.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "服务价格不能为空或为负")
	}

	registered, err := s.IsRegistered(ctx, provider)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrAgentNotFound
	}

	offering := &ServiceOffering{
		Provider:    provider,
		Name:        name,
		Description: strings.TrimSpace(description),
		PriceWei:    new(big.Int).Set(priceWei),
	}
	if err := s.store.PutService(ctx, offering); err != nil {
		return nil, err
	}
	logger.Audit().Info("服务已挂牌",
		slog.String("provider", provider.Hex()),
		slog.String("service", offering.Name),
		slog.String("price_wei", offering.PriceWei.String()),
	)
	return offering, nil
}

// GetService 查询提供方的指定服务。
func (s *Service) GetService(ctx context.Context, provider common.Address, name string) (*ServiceOffering, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	return s.store.GetService(ctx, provider, name)
}

// ListServices 返回提供方挂牌的全部服务。
func (s *Service) ListServices(ctx context.Context, provider common.Address) ([]*ServiceOffering, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	return s.store.ListServices(ctx, provider)
}

// FindProviders 按服务名检索所有提供方，价格从低到高。
func (s *Service) FindProviders(ctx context.Context, name string) ([]*ServiceOffering, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "注册中心未初始化")
	}
	return s.store.FindProviders(ctx, name)
}

// Close 释放底层存储。
func (s *Service) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Close()
}
