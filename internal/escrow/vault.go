package escrow

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

// Vault 抽象了托管资金划转原语。账本在变更流状态时调用这里完成
// "扣款 / 付款 / 退款"，实现方必须保证单次调用的原子性。
type Vault interface {
	// Debit 从发送方可用余额扣除 amount 进入托管。
	Debit(ctx context.Context, from common.Address, amount *big.Int) error
	// Credit 将应计金额支付给接收方。
	Credit(ctx context.Context, to common.Address, amount *big.Int) error
	// Refund 将未释放的托管余额退回发送方。
	Refund(ctx context.Context, to common.Address, amount *big.Int) error
}

var (
	// ErrInsufficientFunds 表示发送方余额不足以完成托管存入。
	ErrInsufficientFunds = xerrors.New(CodeInsufficientFunds, "insufficient funds for escrow deposit")
)

const (
	CodeInsufficientFunds xerrors.Code = "INSUFFICIENT_FUNDS"
)

func init() {
	xerrors.Register(CodeInsufficientFunds, xerrors.Attributes{
		Message:   "insufficient funds for escrow deposit",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
}

// NoopVault 在资金划转由链上合约完成的部署形态下使用，
// 本地只记账不动钱。
type NoopVault struct{}

// Debit 实现 Vault 接口。
func (NoopVault) Debit(context.Context, common.Address, *big.Int) error { return nil }

// Credit 实现 Vault 接口。
func (NoopVault) Credit(context.Context, common.Address, *big.Int) error { return nil }

// Refund 实现 Vault 接口。
func (NoopVault) Refund(context.Context, common.Address, *big.Int) error { return nil }

var _ Vault = NoopVault{}
