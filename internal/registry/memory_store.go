package registry

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

// MemoryStore 是进程内的注册中心实现，主要用于开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]*Agent
	services map[string]map[string]*ServiceOffering
}

// NewMemoryStore 创建一个空的内存注册中心。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]*Agent),
		services: make(map[string]map[string]*ServiceOffering),
	}
}

// PutAgent 写入或更新智能体记录。重复注册只刷新更新时间。
func (s *MemoryStore) PutAgent(_ context.Context, agent *Agent) error {
	if agent == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "agent 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := addressKey(agent.Address)
	now := time.Now().Unix()
	if existing, ok := s.agents[key]; ok {
		agent.RegisteredAt = existing.RegisteredAt
	} else {
		agent.RegisteredAt = now
	}
	agent.UpdatedAt = now
	s.agents[key] = agent.Clone()
	return nil
}

// GetAgent 按地址查询智能体。
func (s *MemoryStore) GetAgent(_ context.Context, addr common.Address) (*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.agents[addressKey(addr)]
	if !ok {
		return nil, ErrAgentNotFound
	}
	return agent.Clone(), nil
}

// ListAgents 按注册时间先后返回全部智能体。
func (s *MemoryStore) ListAgents(_ context.Context) ([]*Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agents := make([]*Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		agents = append(agents, agent.Clone())
	}
	sort.Slice(agents, func(i, j int) bool {
		if agents[i].RegisteredAt != agents[j].RegisteredAt {
			return agents[i].RegisteredAt < agents[j].RegisteredAt
		}
		return addressKey(agents[i].Address) < addressKey(agents[j].Address)
	})
	return agents, nil
}

// PutService 发布或更新服务报价。
func (s *MemoryStore) PutService(_ context.Context, offering *ServiceOffering) error {
	if offering == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "service 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	providerKey := addressKey(offering.Provider)
	name := NormalizeServiceName(offering.Name)

	byName, ok := s.services[providerKey]
	if !ok {
		byName = make(map[string]*ServiceOffering)
		s.services[providerKey] = byName
	}

	now := time.Now().Unix()
	if existing, ok := byName[name]; ok {
		offering.CreatedAt = existing.CreatedAt
	} else {
		offering.CreatedAt = now
	}
	offering.Name = name
	offering.UpdatedAt = now
	byName[name] = offering.Clone()
	return nil
}

// GetService 查询提供方的指定服务。
func (s *MemoryStore) GetService(_ context.Context, provider common.Address, name string) (*ServiceOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName, ok := s.services[addressKey(provider)]
	if !ok {
		return nil, ErrServiceNotFound
	}
	offering, ok := byName[NormalizeServiceName(name)]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return offering.Clone(), nil
}

// ListServices 按服务名排序返回提供方的全部服务。
func (s *MemoryStore) ListServices(_ context.Context, provider common.Address) ([]*ServiceOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName := s.services[addressKey(provider)]
	offerings := make([]*ServiceOffering, 0, len(byName))
	for _, offering := range byName {
		offerings = append(offerings, offering.Clone())
	}
	sort.Slice(offerings, func(i, j int) bool {
		return offerings[i].Name < offerings[j].Name
	})
	return offerings, nil
}

// FindProviders 按服务名在所有提供方中检索，按价格从低到高返回。
func (s *MemoryStore) FindProviders(_ context.Context, name string) ([]*ServiceOffering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := NormalizeServiceName(name)
	var matches []*ServiceOffering
	for _, byName := range s.services {
		if offering, ok := byName[target]; ok {
			matches = append(matches, offering.Clone())
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if cmp := priceOf(matches[i]).Cmp(priceOf(matches[j])); cmp != 0 {
			return cmp < 0
		}
		return addressKey(matches[i].Provider) < addressKey(matches[j].Provider)
	})
	return matches, nil
}

// Close 对内存实现是空操作。
func (s *MemoryStore) Close() error {
	return nil
}

func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func priceOf(offering *ServiceOffering) *big.Int {
	if offering == nil || offering.PriceWei == nil {
		return big.NewInt(0)
	}
	return offering.PriceWei
}

var _ Store = (*MemoryStore)(nil)
