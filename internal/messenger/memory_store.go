package messenger

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

// defaultInboxLimit 是收件箱查询的默认返回条数。
const defaultInboxLimit = 50

// MemoryStore 是进程内的消息存储，主要用于开发与测试。
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Message
	byInbox map[string][]string
}

// NewMemoryStore 创建一个空的内存消息存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Message),
		byInbox: make(map[string][]string),
	}
}

// Put 保存一条消息。
func (s *MemoryStore) Put(_ context.Context, msg *Message) error {
	if msg == nil || msg.ID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "message 不能为空")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[msg.ID]; ok {
		return xerrors.New(xerrors.CodeConflict, "消息 ID 重复")
	}
	s.byID[msg.ID] = msg.Clone()

	inboxKey := addressKey(msg.Recipient)
	s.byInbox[inboxKey] = append(s.byInbox[inboxKey], msg.ID)
	return nil
}

// Get 按 ID 查询消息。
func (s *MemoryStore) Get(_ context.Context, id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// Inbox 返回收件人最近收到的消息，按送达时间倒序。
func (s *MemoryStore) Inbox(_ context.Context, recipient common.Address, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = defaultInboxLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byInbox[addressKey(recipient)]
	messages := make([]*Message, 0, len(ids))
	for _, id := range ids {
		if msg, ok := s.byID[id]; ok {
			messages = append(messages, msg.Clone())
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].SentAt > messages[j].SentAt
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	return messages, nil
}

// Close 对内存实现是空操作。
func (s *MemoryStore) Close() error {
	return nil
}

func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

var _ Store = (*MemoryStore)(nil)
