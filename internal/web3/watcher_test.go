package web3

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/nikdmello/swift/internal/stream"
)

type capturingProducer struct {
	events []stream.Event
}

func (p *capturingProducer) Publish(_ context.Context, event stream.Event) error {
	p.events = append(p.events, event)
	return nil
}

func (p *capturingProducer) Close() error { return nil }

func contractLog(topic common.Hash, sender, recipient common.Address, amount *big.Int) coretypes.Log {
	return coretypes.Log{
		Topics: []common.Hash{
			topic,
			common.BytesToHash(sender.Bytes()),
			common.BytesToHash(recipient.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestWatcherDispatchMirrorsContractLogs(t *testing.T) {
	producer := &capturingProducer{}
	contract := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	watcher := NewWatcher(nil, contract, producer)

	sender := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	ctx := context.Background()

	watcher.dispatch(ctx, contractLog(topicStreamOpened, sender, recipient, big.NewInt(60)))
	watcher.dispatch(ctx, contractLog(topicWithdrawn, sender, recipient, big.NewInt(300)))
	watcher.dispatch(ctx, contractLog(topicStreamCancelled, sender, recipient, big.NewInt(360)))

	if len(producer.events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(producer.events))
	}
	wantTypes := []stream.EventType{
		stream.EventStreamOpened,
		stream.EventWithdrawn,
		stream.EventStreamCancelled,
	}
	wantAmounts := []int64{60, 300, 360}
	for i, event := range producer.events {
		if event.Type != wantTypes[i] {
			t.Fatalf("event %d: expected %s, got %s", i, wantTypes[i], event.Type)
		}
		if event.Sender != sender || event.Recipient != recipient {
			t.Fatalf("event %d: unexpected addresses %s -> %s", i, event.Sender.Hex(), event.Recipient.Hex())
		}
		if event.Amount.Int64() != wantAmounts[i] {
			t.Fatalf("event %d: expected amount %d, got %s", i, wantAmounts[i], event.Amount)
		}
	}
}

func TestWatcherDispatchIgnoresForeignLogs(t *testing.T) {
	producer := &capturingProducer{}
	watcher := NewWatcher(nil, common.Address{}, producer)
	ctx := context.Background()

	// 无关事件签名。
	watcher.dispatch(ctx, contractLog(common.HexToHash("0xdead"), common.Address{}, common.Address{}, big.NewInt(1)))
	// topic 数量不足。
	watcher.dispatch(ctx, coretypes.Log{Topics: []common.Hash{topicStreamOpened}})

	if len(producer.events) != 0 {
		t.Fatalf("expected no events, got %d", len(producer.events))
	}
}
