package web3

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/nikdmello/swift/internal/stream"
	"github.com/nikdmello/swift/pkg/logger"
)

// StreamManager 合约的事件签名。链上事件与链下账本事件一一对应。
var (
	topicStreamOpened    = crypto.Keccak256Hash([]byte("StreamOpened(address,address,uint256)"))
	topicWithdrawn       = crypto.Keccak256Hash([]byte("Withdrawn(address,address,uint256)"))
	topicStreamCancelled = crypto.Keccak256Hash([]byte("StreamCancelled(address,address,uint256,uint256)"))
)

// Watcher mirrors StreamManager contract logs into the local event bus so the
// settlement worker reacts to on-chain activity the same way it reacts to API
// calls.
type Watcher struct {
	client   Client
	contract common.Address
	producer stream.Producer
	backoff  time.Duration
}

// NewWatcher constructs a watcher for the given contract address.
func NewWatcher(client Client, contract common.Address, producer stream.Producer) *Watcher {
	return &Watcher{
		client:   client,
		contract: contract,
		producer: producer,
		backoff:  5 * time.Second,
	}
}

// Run blocks consuming chain logs until the context is cancelled.
// Subscription failures are retried with a fixed backoff.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.client == nil || w.producer == nil {
		return nil
	}

	query := gethcore.FilterQuery{Addresses: []common.Address{w.contract}}
	for {
		sub, err := w.client.SubscribeEvents(ctx, query)
		if err != nil {
			logger.L().Warn("订阅链上事件失败，稍后重试",
				slog.Any("error", err),
				slog.String("contract", w.contract.Hex()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.backoff):
				continue
			}
		}

		if err := w.consume(ctx, sub); err != nil {
			return err
		}
	}
}

func (w *Watcher) consume(ctx context.Context, sub *EventSubscription) error {
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			logger.L().Warn("链上事件订阅中断", slog.Any("error", err))
			return nil
		case log := <-sub.Logs():
			w.dispatch(ctx, log)
		}
	}
}

// dispatch 将合约日志转换为账本事件发布到本地总线。
func (w *Watcher) dispatch(ctx context.Context, log coretypes.Log) {
	if len(log.Topics) < 3 {
		return
	}

	var eventType stream.EventType
	switch log.Topics[0] {
	case topicStreamOpened:
		eventType = stream.EventStreamOpened
	case topicWithdrawn:
		eventType = stream.EventWithdrawn
	case topicStreamCancelled:
		eventType = stream.EventStreamCancelled
	default:
		return
	}

	sender := common.BytesToAddress(log.Topics[1].Bytes())
	recipient := common.BytesToAddress(log.Topics[2].Bytes())
	amount := new(big.Int)
	if len(log.Data) >= 32 {
		amount.SetBytes(log.Data[:32])
	}

	event := stream.NewEvent(eventType, sender, recipient, amount)
	if err := w.producer.Publish(ctx, event); err != nil {
		logger.L().Error("镜像链上事件失败",
			slog.Any("error", err),
			slog.String("type", string(eventType)),
			slog.String("tx", log.TxHash.Hex()),
		)
	}
}
