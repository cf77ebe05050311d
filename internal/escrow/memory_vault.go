package escrow

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

// MemoryVault 以内存账户模拟托管资金池，用于测试与本地演示。
type MemoryVault struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// NewMemoryVault 创建空的内存资金池。
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{balances: make(map[common.Address]*big.Int)}
}

// Deposit 为地址充值可用余额，仅测试与演示场景使用。
func (v *MemoryVault) Deposit(addr common.Address, amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance := v.balanceLocked(addr)
	balance.Add(balance, amount)
}

// BalanceOf 返回地址当前可用余额的拷贝。
func (v *MemoryVault) BalanceOf(addr common.Address) *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.balanceLocked(addr))
}

// Debit 实现 Vault 接口。余额不足返回 ErrInsufficientFunds。
func (v *MemoryVault) Debit(_ context.Context, from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "划转金额非法")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance := v.balanceLocked(from)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	balance.Sub(balance, amount)
	return nil
}

// Credit 实现 Vault 接口。
func (v *MemoryVault) Credit(_ context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "划转金额非法")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	balance := v.balanceLocked(to)
	balance.Add(balance, amount)
	return nil
}

// Refund 实现 Vault 接口，语义上与 Credit 相同但单独记录，
// 便于审计区分"付款"与"退款"。
func (v *MemoryVault) Refund(ctx context.Context, to common.Address, amount *big.Int) error {
	return v.Credit(ctx, to, amount)
}

func (v *MemoryVault) balanceLocked(addr common.Address) *big.Int {
	balance, ok := v.balances[addr]
	if !ok {
		balance = new(big.Int)
		v.balances[addr] = balance
	}
	return balance
}

var _ Vault = (*MemoryVault)(nil)
