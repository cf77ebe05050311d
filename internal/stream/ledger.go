package stream

import (
	"context"
	stdErrors "errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikdmello/swift/internal/escrow"
	xerrors "github.com/nikdmello/swift/internal/errors"
)

// Ledger 是支付流的唯一事实来源：所有开流、应计、提取、取消都在
// 这里以地址对为粒度串行化执行。时间永远由调用方以 now 参数显式
// 传入，账本内部不读墙钟，也不持有任何定时器。
type Ledger struct {
	store Store
	vault escrow.Vault

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// maxUpdateRetries 限制乐观并发冲突时的重算次数。同进程内地址对
// 已经由互斥锁串行化，冲突只会来自共享同一数据库的其他进程。
const maxUpdateRetries = 3

// NewLedger 构造账本。
func NewLedger(store Store, vault escrow.Vault) *Ledger {
	if vault == nil {
		vault = escrow.NoopVault{}
	}
	return &Ledger{
		store: store,
		vault: vault,
		locks: make(map[string]*sync.Mutex),
	}
}

// Settlement 汇总一次提取或取消的资金去向。
type Settlement struct {
	Stream *Stream  `json:"stream"`
	Paid   *big.Int `json:"paid"`
	Refund *big.Int `json:"refund"`
}

// Open 为 (sender, recipient) 开启新的支付流：立即从发送方扣除全额
// 托管，按 floor(total/duration) 确定流速。除不尽的零头留在托管中，
// 到期或取消时随尾款退回发送方，绝不凭空消失。
func (l *Ledger) Open(ctx context.Context, sender, recipient common.Address, total *big.Int, duration, now int64) (*Stream, error) {
	if l == nil || l.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "账本未初始化")
	}
	if total == nil || total.Sign() <= 0 {
		return nil, xerrors.Wrap(CodeInvalidAmount, ErrInvalidAmount, "存入金额必须为正")
	}
	if duration <= 0 {
		return nil, xerrors.Wrap(CodeInvalidAmount, ErrInvalidAmount, "流时长必须为正")
	}
	if sender == recipient {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "发送方与接收方不能相同")
	}

	flowRate := new(big.Int).Quo(total, big.NewInt(duration))
	if flowRate.Sign() == 0 {
		return nil, xerrors.Wrap(CodeInvalidAmount, ErrInvalidAmount, "金额过小，流速向下取整后为零")
	}

	unlock := l.lockPair(sender, recipient)
	defer unlock()

	current, err := l.store.Get(ctx, sender, recipient)
	if err != nil && !stdErrors.Is(err, ErrStreamNotFound) {
		return nil, err
	}
	if current.Active() {
		return nil, ErrStreamAlreadyActive
	}

	if err := l.vault.Debit(ctx, sender, total); err != nil {
		return nil, err
	}

	s := &Stream{
		Sender:     sender,
		Recipient:  recipient,
		Status:     StatusActive,
		StartTime:  now,
		Duration:   duration,
		LastUpdate: now,
		FlowRate:   flowRate,
		Balance:    new(big.Int).Set(total),
		Deposited:  new(big.Int).Set(total),
		Withdrawn:  new(big.Int),
		Refunded:   new(big.Int),
	}
	if err := l.store.Create(ctx, s); err != nil {
		// 落库失败时托管存入必须回滚，否则资金凭空蒸发。
		_ = l.vault.Refund(ctx, sender, total)
		return nil, err
	}
	return s.Clone(), nil
}

// Owed 返回 now 时刻接收方可提取的金额。纯查询，不推进清算点。
// 流不存在或已终结时返回零，方便轮询方无脑调用。
func (l *Ledger) Owed(ctx context.Context, sender, recipient common.Address, now int64) (*big.Int, error) {
	s, err := l.store.Get(ctx, sender, recipient)
	if err != nil {
		if stdErrors.Is(err, ErrStreamNotFound) {
			return new(big.Int), nil
		}
		return nil, err
	}
	return s.AccruedAt(now)
}

// Get 返回地址对最新一条流记录。只读，不造成任何状态变化。
func (l *Ledger) Get(ctx context.Context, sender, recipient common.Address) (*Stream, error) {
	return l.store.Get(ctx, sender, recipient)
}

// Withdraw 把 now 时刻的应计金额支付给接收方并推进清算点。
// 应计为零时是良性空操作。同一 now 重复调用第二次必然得到零，
// 不存在重复支付。到期后的最后一次提取同时把取整零头退回发送方
// 并把流置为 expired。
func (l *Ledger) Withdraw(ctx context.Context, sender, recipient, caller common.Address, now int64) (*Settlement, error) {
	if caller != recipient {
		return nil, ErrNotRecipient
	}

	unlock := l.lockPair(sender, recipient)
	defer unlock()

	for attempt := 0; ; attempt++ {
		s, err := l.store.Get(ctx, sender, recipient)
		if err != nil {
			if stdErrors.Is(err, ErrStreamNotFound) {
				return &Settlement{Paid: new(big.Int), Refund: new(big.Int)}, nil
			}
			return nil, err
		}
		if !s.Active() {
			// 终态流的余额一定为零：最后一次清算已经分完所有资金。
			return &Settlement{Stream: s, Paid: new(big.Int), Refund: new(big.Int)}, nil
		}

		amount, err := s.AccruedAt(now)
		if err != nil {
			return nil, err
		}
		expired := now >= s.End()
		if amount.Sign() == 0 && !expired {
			return &Settlement{Stream: s, Paid: new(big.Int), Refund: new(big.Int)}, nil
		}

		s.Balance.Sub(s.Balance, amount)
		s.Withdrawn.Add(s.Withdrawn, amount)
		s.LastUpdate = clampSettleTime(s, now)

		refund := new(big.Int)
		if expired {
			// 自然到期：流速取整留下的零头退回发送方，不滞留托管。
			refund.Set(s.Balance)
			s.Balance.SetInt64(0)
			s.Refunded.Add(s.Refunded, refund)
			s.Status = StatusExpired
		}

		if err := l.store.Update(ctx, s); err != nil {
			if stdErrors.Is(err, ErrVersionConflict) && attempt < maxUpdateRetries {
				continue
			}
			return nil, err
		}

		if amount.Sign() > 0 {
			if err := l.vault.Credit(ctx, recipient, amount); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "托管付款划转失败")
			}
		}
		if refund.Sign() > 0 {
			if err := l.vault.Refund(ctx, sender, refund); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "到期尾款退回失败")
			}
		}
		return &Settlement{Stream: s.Clone(), Paid: amount, Refund: refund}, nil
	}
}

// Cancel 由发送方提前终止支付流：先支付截至 now 的应计金额，再把
// 剩余托管余额退回发送方。对不存在或已终结的流是良性空操作，
// 保证客户端重试安全。
func (l *Ledger) Cancel(ctx context.Context, sender, recipient, caller common.Address, now int64) (*Settlement, error) {
	if caller != sender {
		return nil, ErrNotSender
	}

	unlock := l.lockPair(sender, recipient)
	defer unlock()

	for attempt := 0; ; attempt++ {
		s, err := l.store.Get(ctx, sender, recipient)
		if err != nil {
			if stdErrors.Is(err, ErrStreamNotFound) {
				return &Settlement{Paid: new(big.Int), Refund: new(big.Int)}, nil
			}
			return nil, err
		}
		if !s.Active() {
			return &Settlement{Stream: s, Paid: new(big.Int), Refund: new(big.Int)}, nil
		}

		amount, err := s.AccruedAt(now)
		if err != nil {
			return nil, err
		}

		refund := new(big.Int).Sub(s.Balance, amount)
		s.Balance.SetInt64(0)
		s.Withdrawn.Add(s.Withdrawn, amount)
		s.Refunded.Add(s.Refunded, refund)
		s.LastUpdate = clampSettleTime(s, now)
		s.Status = StatusCancelled

		if err := l.store.Update(ctx, s); err != nil {
			if stdErrors.Is(err, ErrVersionConflict) && attempt < maxUpdateRetries {
				continue
			}
			return nil, err
		}

		if amount.Sign() > 0 {
			if err := l.vault.Credit(ctx, recipient, amount); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "取消时应计支付失败")
			}
		}
		if refund.Sign() > 0 {
			if err := l.vault.Refund(ctx, sender, refund); err != nil {
				return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "取消退款划转失败")
			}
		}
		return &Settlement{Stream: s.Clone(), Paid: amount, Refund: refund}, nil
	}
}

// History 返回地址对历代流记录，用于审计。
func (l *Ledger) History(ctx context.Context, sender, recipient common.Address) ([]*Stream, error) {
	return l.store.History(ctx, sender, recipient)
}

// List 返回符合过滤条件的流列表。
func (l *Ledger) List(ctx context.Context, opts ListOptions) ([]*Stream, error) {
	return l.store.List(ctx, opts)
}

// Stats 返回符合过滤条件的统计信息。
func (l *Ledger) Stats(ctx context.Context, opts ListOptions) (LedgerStats, error) {
	return l.store.Stats(ctx, opts)
}

// clampSettleTime 把清算点封顶在流的名义终点，避免应计越过已注资
// 的时段继续累积。
func clampSettleTime(s *Stream, now int64) int64 {
	if end := s.End(); now > end {
		return end
	}
	return now
}

// lockPair 获取地址对级别的互斥锁。不同地址对之间完全并行。
func (l *Ledger) lockPair(sender, recipient common.Address) func() {
	key := PairKey(sender, recipient)
	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[key] = lock
	}
	l.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}
