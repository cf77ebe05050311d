package stream

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

// MemoryStore 以内存方式保存支付流记录，主要用于测试和本地开发。
type MemoryStore struct {
	mu      sync.RWMutex
	streams map[string][]*Stream
}

// NewMemoryStore 创建 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{streams: make(map[string][]*Stream)}
}

// Create 追加地址对的新一代记录。上一代必须已处于终态。
func (m *MemoryStore) Create(_ context.Context, s *Stream) error {
	if s == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "stream 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := PairKey(s.Sender, s.Recipient)
	history := m.streams[key]
	if len(history) > 0 && history[len(history)-1].Active() {
		return ErrStreamAlreadyActive
	}

	now := time.Now().Unix()
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	s.Seq = uint64(len(history)) + 1
	s.Version = 1

	m.streams[key] = append(history, s.Clone())
	return nil
}

// Get 返回地址对的最新一条记录。
func (m *MemoryStore) Get(_ context.Context, sender, recipient common.Address) (*Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.streams[PairKey(sender, recipient)]
	if len(history) == 0 {
		return nil, ErrStreamNotFound
	}
	return history[len(history)-1].Clone(), nil
}

// Update 以乐观并发控制覆盖最新记录。
func (m *MemoryStore) Update(_ context.Context, s *Stream) error {
	if s == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "stream 不能为空")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := PairKey(s.Sender, s.Recipient)
	history := m.streams[key]
	if len(history) == 0 {
		return ErrStreamNotFound
	}
	current := history[len(history)-1]
	if current.Seq != s.Seq || current.Version != s.Version {
		return ErrVersionConflict
	}

	updated := s.Clone()
	updated.Version++
	updated.UpdatedAt = time.Now().Unix()
	history[len(history)-1] = updated

	s.Version = updated.Version
	s.UpdatedAt = updated.UpdatedAt
	return nil
}

// History 返回地址对从旧到新的全部记录。
func (m *MemoryStore) History(_ context.Context, sender, recipient common.Address) ([]*Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.streams[PairKey(sender, recipient)]
	result := make([]*Stream, 0, len(history))
	for _, s := range history {
		result = append(result, s.Clone())
	}
	return result, nil
}

// List 返回符合过滤条件的最新代记录。
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	results := make([]*Stream, 0, len(m.streams))
	for _, history := range m.streams {
		s := history[len(history)-1]
		if !matchesListFilters(s, opts) {
			continue
		}
		results = append(results, s.Clone())
	}

	sort.Slice(results, func(i, j int) bool {
		if opts.Order == SortByUpdatedAsc {
			if results[i].UpdatedAt == results[j].UpdatedAt {
				return PairKey(results[i].Sender, results[i].Recipient) < PairKey(results[j].Sender, results[j].Recipient)
			}
			return results[i].UpdatedAt < results[j].UpdatedAt
		}
		if results[i].UpdatedAt == results[j].UpdatedAt {
			return PairKey(results[i].Sender, results[i].Recipient) < PairKey(results[j].Sender, results[j].Recipient)
		}
		return results[i].UpdatedAt > results[j].UpdatedAt
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(results) {
			return []*Stream{}, nil
		}
		results = results[opts.Offset:]
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats 统计符合过滤条件的支付流数量与金额合计。
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (LedgerStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	opts.applyDefaults()

	stats := newLedgerStats()
	for _, history := range m.streams {
		s := history[len(history)-1]
		if !matchesListFilters(s, opts) {
			continue
		}
		stats.Total++
		switch s.Status {
		case StatusActive:
			stats.Active++
		case StatusCancelled:
			stats.Cancelled++
		case StatusExpired:
			stats.Expired++
		}
		stats.EscrowBalance.Add(stats.EscrowBalance, s.Balance)
		stats.TotalDeposited.Add(stats.TotalDeposited, s.Deposited)
		stats.TotalWithdrawn.Add(stats.TotalWithdrawn, s.Withdrawn)
		stats.TotalRefunded.Add(stats.TotalRefunded, s.Refunded)
		if s.UpdatedAt > stats.NewestUpdatedAt {
			stats.NewestUpdatedAt = s.UpdatedAt
		}
		if stats.OldestUpdatedAt == 0 || (s.UpdatedAt != 0 && s.UpdatedAt < stats.OldestUpdatedAt) {
			stats.OldestUpdatedAt = s.UpdatedAt
		}
	}
	if stats.Total == 0 {
		stats.OldestUpdatedAt = 0
		stats.NewestUpdatedAt = 0
	}
	return stats, nil
}

// Close 对内存存储无需操作。
func (m *MemoryStore) Close() error {
	return nil
}

func matchesListFilters(s *Stream, opts ListOptions) bool {
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if s.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if opts.Participant != nil && s.Sender != *opts.Participant && s.Recipient != *opts.Participant {
		return false
	}
	if opts.Sender != nil && s.Sender != *opts.Sender {
		return false
	}
	if opts.Recipient != nil && s.Recipient != *opts.Recipient {
		return false
	}
	if opts.UpdatedGTE > 0 && s.UpdatedAt < opts.UpdatedGTE {
		return false
	}
	if opts.UpdatedLTE > 0 && s.UpdatedAt > opts.UpdatedLTE {
		return false
	}
	return true
}

// ensure interface compliance at compile time
var _ Store = (*MemoryStore)(nil)
