package stream

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
	"github.com/nikdmello/swift/pkg/logger"
)

// Service 在账本之上叠加事件投递与审计日志。对外接口（API、SDK、
// 自动提取器）一律经由这里，账本本身保持纯粹。
type Service struct {
	ledger   *Ledger
	producer Producer
}

// NewService 构造支付流服务。producer 为 nil 时事件静默丢弃，
// 适合纯本地工具场景。
func NewService(ledger *Ledger, producer Producer) *Service {
	return &Service{ledger: ledger, producer: producer}
}

// Open 开启支付流并广播 StreamOpened 事件。
func (s *Service) Open(ctx context.Context, sender, recipient common.Address, total *big.Int, duration, now int64) (*Stream, error) {
	if s.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	opened, err := s.ledger.Open(ctx, sender, recipient, total, duration, now)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, NewEvent(EventStreamOpened, sender, recipient, opened.FlowRate))
	logger.Audit().Info("支付流已开启",
		slog.String("sender", sender.Hex()),
		slog.String("recipient", recipient.Hex()),
		slog.String("deposited", opened.Deposited.String()),
		slog.String("flow_rate", opened.FlowRate.String()),
		slog.Int64("duration", opened.Duration),
		slog.Int64("start_time", opened.StartTime),
	)
	return opened, nil
}

// Withdraw 结算应计金额并广播 Withdrawn（及可能的 StreamExpired）事件。
func (s *Service) Withdraw(ctx context.Context, sender, recipient, caller common.Address, now int64) (*Settlement, error) {
	if s.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	settled, err := s.ledger.Withdraw(ctx, sender, recipient, caller, now)
	if err != nil {
		return nil, err
	}
	if settled.Paid.Sign() > 0 {
		s.publish(ctx, NewEvent(EventWithdrawn, sender, recipient, settled.Paid))
		logger.Audit().Info("应计资金已提取",
			slog.String("sender", sender.Hex()),
			slog.String("recipient", recipient.Hex()),
			slog.String("paid", settled.Paid.String()),
			slog.Int64("settled_at", now),
		)
	}
	if settled.Stream != nil && settled.Stream.Status == StatusExpired {
		s.publish(ctx, NewEvent(EventStreamExpired, sender, recipient, settled.Refund))
		if settled.Refund.Sign() > 0 {
			logger.Audit().Info("到期尾款已退回",
				slog.String("sender", sender.Hex()),
				slog.String("recipient", recipient.Hex()),
				slog.String("refund", settled.Refund.String()),
			)
		}
	}
	return settled, nil
}

// Cancel 终止支付流并广播 StreamCancelled 事件。
func (s *Service) Cancel(ctx context.Context, sender, recipient, caller common.Address, now int64) (*Settlement, error) {
	if s.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	settled, err := s.ledger.Cancel(ctx, sender, recipient, caller, now)
	if err != nil {
		return nil, err
	}
	// 真正发生终止时必然有资金流出（应计支付或退款），区别于空操作。
	if settled.Stream != nil && settled.Stream.Status == StatusCancelled && (settled.Paid.Sign() > 0 || settled.Refund.Sign() > 0) {
		s.publish(ctx, NewEvent(EventStreamCancelled, sender, recipient, settled.Refund))
		logger.Audit().Info("支付流已取消",
			slog.String("sender", sender.Hex()),
			slog.String("recipient", recipient.Hex()),
			slog.String("paid", settled.Paid.String()),
			slog.String("refund", settled.Refund.String()),
			slog.Int64("cancelled_at", now),
		)
	}
	return settled, nil
}

// Get 返回地址对最新的流记录。
func (s *Service) Get(ctx context.Context, sender, recipient common.Address) (*Stream, error) {
	if s.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	return s.ledger.Get(ctx, sender, recipient)
}

// Owed 返回接收方当前可提取的金额。
func (s *Service) Owed(ctx context.Context, sender, recipient common.Address, now int64) (*big.Int, error) {
	if s.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	return s.ledger.Owed(ctx, sender, recipient, now)
}

// History 返回地址对历代流记录。
func (s *Service) History(ctx context.Context, sender, recipient common.Address) ([]*Stream, error) {
	if s.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	return s.ledger.History(ctx, sender, recipient)
}

// List 返回符合过滤条件的流列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Stream, error) {
	if s.ledger == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	return s.ledger.List(ctx, buildListOptions(opts))
}

// Stats 返回符合过滤条件的统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (LedgerStats, error) {
	if s.ledger == nil {
		return LedgerStats{}, xerrors.New(xerrors.CodeInitializationFailure, "支付流服务未初始化")
	}
	return s.ledger.Stats(ctx, buildListOptions(opts))
}

// Close 释放事件总线资源。
func (s *Service) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// publish 投递事件。事件丢失不影响账目正确性，只记日志不回滚。
func (s *Service) publish(ctx context.Context, event Event) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, event); err != nil {
		logger.L().Error("投递支付流事件失败",
			slog.Any("error", xerrors.Wrap(CodeStreamPublish, err, "")),
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
		)
	}
}
