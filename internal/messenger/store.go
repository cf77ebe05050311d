package messenger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象消息的持久化层。
type Store interface {
	// Put 保存一条消息，ID 冲突视为存储层错误。
	Put(ctx context.Context, msg *Message) error
	// Get 按 ID 查询消息，不存在时返回 ErrMessageNotFound。
	Get(ctx context.Context, id string) (*Message, error)
	// Inbox 返回收件人最近收到的消息，按送达时间倒序，limit 封顶。
	Inbox(ctx context.Context, recipient common.Address, limit int) ([]*Message, error)
	// Close 释放底层资源。
	Close() error
}
