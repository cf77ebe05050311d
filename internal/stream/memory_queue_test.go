package stream

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryQueueDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	queue := NewMemoryQueue(8)
	defer queue.Close()

	var received atomic.Int32
	consumeCtx, stopConsume := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = queue.Consume(consumeCtx, 2, func(_ context.Context, event Event) error {
			if event.Type == EventStreamOpened {
				received.Add(1)
			}
			return nil
		})
	}()

	for i := 0; i < 5; i++ {
		event := NewEvent(EventStreamOpened, alice, bob, big.NewInt(60))
		if err := queue.Publish(ctx, event); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for received.Load() < 5 {
		select {
		case <-deadline:
			t.Fatalf("expected 5 events, got %d", received.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}
	stopConsume()
	<-done
}

func TestMemoryQueueRejectsPublishAfterClose(t *testing.T) {
	queue := NewMemoryQueue(1)
	if err := queue.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := queue.Publish(context.Background(), NewEvent(EventWithdrawn, alice, bob, big.NewInt(1))); err == nil {
		t.Fatal("expected publish to fail after close")
	}
	// 重复关闭是安全的。
	if err := queue.Close(); err != nil {
		t.Fatalf("double close: %v", err)
	}
}

func TestEventRoundTrip(t *testing.T) {
	event := NewEvent(EventStreamCancelled, alice, bob, big.NewInt(360))

	payload, err := event.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeEvent(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.ID != event.ID || decoded.Type != event.Type {
		t.Fatalf("unexpected event: %+v", decoded)
	}
	if decoded.Amount.Cmp(event.Amount) != 0 {
		t.Fatalf("amount mismatch: %s != %s", decoded.Amount, event.Amount)
	}

	if _, err := DecodeEvent([]byte("{broken")); err == nil {
		t.Fatal("expected decode failure for malformed payload")
	}

	missing, err := DecodeEvent([]byte(`{"type":"withdrawn"}`))
	if err != nil {
		t.Fatalf("decode without amount: %v", err)
	}
	if missing.Amount == nil || missing.Amount.Sign() != 0 {
		t.Fatalf("missing amount must default to zero, got %v", missing.Amount)
	}
}
