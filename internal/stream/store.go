package stream

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Store 抽象了支付流记录的持久化接口。
//
// Get 返回地址对的最新一条记录（终态也算）。Create 追加 Seq 递增的新
// 记录。Update 以 Version 做乐观并发控制：版本不匹配返回
// ErrVersionConflict，调用方必须重读后基于最新状态重新计算。
type Store interface {
	Create(ctx context.Context, s *Stream) error
	Get(ctx context.Context, sender, recipient common.Address) (*Stream, error)
	Update(ctx context.Context, s *Stream) error
	History(ctx context.Context, sender, recipient common.Address) ([]*Stream, error)
	List(ctx context.Context, opts ListOptions) ([]*Stream, error)
	Stats(ctx context.Context, opts ListOptions) (LedgerStats, error)
	Close() error
}
