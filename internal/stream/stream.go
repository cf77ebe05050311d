package stream

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

// Status 表示支付流在生命周期中的状态。
type Status string

const (
	// StatusActive 表示资金仍在按流速释放。
	StatusActive Status = "active"
	// StatusCancelled 表示发送方提前终止，尾款已退回。
	StatusCancelled Status = "cancelled"
	// StatusExpired 表示流自然到期并完成最终清算。
	StatusExpired Status = "expired"
)

// Stream 描述一条按时间释放托管资金的支付流。
// 每个有序 (sender, recipient) 地址对同一时刻至多存在一条活跃流；
// 终态记录保留用于审计，重新开流会生成 Seq 递增的新记录。
type Stream struct {
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Seq       uint64         `json:"seq"`
	Status    Status         `json:"status"`

	// StartTime/Duration/LastUpdate 均为 Unix 秒。LastUpdate 是上一次
	// 清算点，新的应计金额从这里开始累积。
	StartTime  int64 `json:"start_time"`
	Duration   int64 `json:"duration"`
	LastUpdate int64 `json:"last_update"`

	// 所有金额均为 wei 级整数，组件内不允许浮点运算。
	FlowRate  *big.Int `json:"flow_rate"`
	Balance   *big.Int `json:"balance"`
	Deposited *big.Int `json:"deposited"`
	Withdrawn *big.Int `json:"withdrawn"`
	Refunded  *big.Int `json:"refunded"`

	// Version 用于存储层的乐观并发控制。
	Version   uint64 `json:"version"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

var (
	// ErrStreamNotFound 表示指定地址对不存在支付流。
	ErrStreamNotFound = xerrors.New(CodeStreamNotFound, "stream not found")
	// ErrStreamAlreadyActive 表示该地址对已有一条活跃流。
	ErrStreamAlreadyActive = xerrors.New(CodeStreamAlreadyActive, "stream already active", xerrors.WithSeverity(xerrors.SeverityWarning))
	// ErrInvalidAmount 表示存入金额或时长非法。
	ErrInvalidAmount = xerrors.New(CodeInvalidAmount, "invalid amount or duration")
	// ErrArithmeticOverflow 表示应计金额计算越出可表示范围，必须在
	// 污染托管账目之前拒绝。
	ErrArithmeticOverflow = xerrors.New(CodeArithmeticOverflow, "accrual arithmetic out of range", xerrors.WithSeverity(xerrors.SeverityCritical))
	// ErrNotSender 表示只有发送方才能取消自己的出流。
	ErrNotSender = xerrors.New(xerrors.CodeUnauthorized, "only the stream sender may cancel")
	// ErrNotRecipient 表示只有接收方才能提取应计资金。
	ErrNotRecipient = xerrors.New(xerrors.CodeUnauthorized, "only the stream recipient may withdraw")
	// ErrVersionConflict 表示存储层发生并发写冲突，需要重读后重试。
	ErrVersionConflict = xerrors.New(CodeVersionConflict, "stream version conflict", xerrors.WithSeverity(xerrors.SeverityWarning))
)

const (
	CodeStreamNotFound      xerrors.Code = "STREAM_NOT_FOUND"
	CodeStreamAlreadyActive xerrors.Code = "STREAM_ALREADY_ACTIVE"
	CodeInvalidAmount       xerrors.Code = "INVALID_AMOUNT"
	CodeArithmeticOverflow  xerrors.Code = "ARITHMETIC_OVERFLOW"
	CodeVersionConflict     xerrors.Code = "VERSION_CONFLICT"
	CodeStreamPublish       xerrors.Code = "STREAM_EVENT_PUBLISH_FAILED"
)

func init() {
	xerrors.Register(CodeStreamNotFound, xerrors.Attributes{
		Message:   "stream not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeStreamAlreadyActive, xerrors.Attributes{
		Message:   "stream already active",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:   "invalid amount or duration",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeArithmeticOverflow, xerrors.Attributes{
		Message:   "accrual arithmetic out of range",
		Severity:  xerrors.SeverityCritical,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeVersionConflict, xerrors.Attributes{
		Message:   "stream version conflict",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
	xerrors.Register(CodeStreamPublish, xerrors.Attributes{
		Message:   "failed to publish stream event",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// Active 判断当前是否仍在累积应计金额。
func (s *Stream) Active() bool {
	return s != nil && s.Status == StatusActive
}

// End 返回资金完全释放的名义时间点。
func (s *Stream) End() int64 {
	if s == nil {
		return 0
	}
	return s.StartTime + s.Duration
}

// AccruedAt 计算 now 时刻已释放但尚未提取的金额：
// min(flowRate × (min(now, end) − lastUpdate), balance)。
// now 早于上一次清算点视为时钟回退，拒绝而不是让差值变负。
func (s *Stream) AccruedAt(now int64) (*big.Int, error) {
	if !s.Active() {
		return new(big.Int), nil
	}
	if now < s.LastUpdate {
		return nil, xerrors.Wrap(CodeArithmeticOverflow, ErrArithmeticOverflow,
			"settlement clock moved backwards",
			xerrors.WithMetadata("pair", PairKey(s.Sender, s.Recipient)))
	}
	effective := now
	if end := s.End(); effective > end {
		effective = end
	}
	elapsed := effective - s.LastUpdate
	if elapsed <= 0 {
		return new(big.Int), nil
	}
	accrued := new(big.Int).Mul(s.FlowRate, big.NewInt(elapsed))
	// 应计金额永远不超过剩余托管余额。
	if accrued.Cmp(s.Balance) > 0 {
		accrued.Set(s.Balance)
	}
	return accrued, nil
}

// Clone 返回深拷贝，避免调用方篡改存储内部状态。
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	clone := *s
	clone.FlowRate = cloneAmount(s.FlowRate)
	clone.Balance = cloneAmount(s.Balance)
	clone.Deposited = cloneAmount(s.Deposited)
	clone.Withdrawn = cloneAmount(s.Withdrawn)
	clone.Refunded = cloneAmount(s.Refunded)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// PairKey 返回有序地址对的规范化键。
func PairKey(sender, recipient common.Address) string {
	return strings.ToLower(sender.Hex()) + ":" + strings.ToLower(recipient.Hex())
}

// IsValidStatus 检查给定状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusActive, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}
