package settlement

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikdmello/swift/internal/stream"
)

var (
	payer = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	payee = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func waitForStatus(t *testing.T, streams *stream.Service, want stream.Status) *stream.Stream {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s, err := streams.Get(context.Background(), payer, payee)
		if err == nil && s.Status == want {
			return s
		}
		select {
		case <-deadline:
			t.Fatalf("stream never reached %s, latest: %+v (err %v)", want, s, err)
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestProcessorSettlesStreamToExpiry(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := stream.NewMemoryQueue(16)
	streams := stream.NewService(stream.NewLedger(stream.NewMemoryStore(), nil), queue)

	var clock atomic.Int64
	clock.Store(1000)

	processor := NewProcessor(streams, queue,
		WithInterval(10*time.Millisecond),
		WithClock(clock.Load),
		WithWorkerCount(2),
	)

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	if _, err := streams.Open(ctx, payer, payee, big.NewInt(600), 10, clock.Load()); err != nil {
		t.Fatalf("open: %v", err)
	}

	// 推进虚拟时钟到半程，等待自动提取。
	clock.Store(1005)
	waited := time.After(3 * time.Second)
	for {
		s, err := streams.Get(ctx, payer, payee)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if s.Withdrawn.Int64() >= 300 {
			break
		}
		select {
		case <-waited:
			t.Fatalf("auto withdraw never happened, withdrawn=%s", s.Withdrawn)
		case <-time.After(20 * time.Millisecond):
		}
	}

	// 越过终点后流应被自动置为 expired，且资金全部分配完毕。
	clock.Store(2000)
	final := waitForStatus(t, streams, stream.StatusExpired)
	if final.Balance.Sign() != 0 {
		t.Fatalf("expired stream must hold zero balance, got %s", final.Balance)
	}
	total := new(big.Int).Add(final.Withdrawn, final.Refunded)
	if total.Cmp(final.Deposited) != 0 {
		t.Fatalf("funds not conserved: withdrawn=%s refunded=%s deposited=%s",
			final.Withdrawn, final.Refunded, final.Deposited)
	}
	cancel()
}

func TestProcessorRecoversActiveStreamsOnStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 事件总线缺席时（例如重启后），恢复逻辑要从存储扫出活跃流。
	streams := stream.NewService(stream.NewLedger(stream.NewMemoryStore(), nil), nil)

	var clock atomic.Int64
	clock.Store(1000)
	if _, err := streams.Open(ctx, payer, payee, big.NewInt(100), 7, clock.Load()); err != nil {
		t.Fatalf("open: %v", err)
	}

	clock.Store(5000)
	processor := NewProcessor(streams, nil,
		WithInterval(10*time.Millisecond),
		WithClock(clock.Load),
	)
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	final := waitForStatus(t, streams, stream.StatusExpired)
	if final.Withdrawn.Int64() != 98 || final.Refunded.Int64() != 2 {
		t.Fatalf("expected paid 98 and dust 2, got withdrawn=%s refunded=%s",
			final.Withdrawn, final.Refunded)
	}
	cancel()
}

func TestProcessorStopsLoopOnCancelEvent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	queue := stream.NewMemoryQueue(16)
	streams := stream.NewService(stream.NewLedger(stream.NewMemoryStore(), nil), queue)

	var clock atomic.Int64
	clock.Store(1000)
	processor := NewProcessor(streams, queue,
		WithInterval(10*time.Millisecond),
		WithClock(clock.Load),
	)
	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()

	if _, err := streams.Open(ctx, payer, payee, big.NewInt(600), 10, clock.Load()); err != nil {
		t.Fatalf("open: %v", err)
	}
	clock.Store(1004)
	if _, err := streams.Cancel(ctx, payer, payee, payer, clock.Load()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	final := waitForStatus(t, streams, stream.StatusCancelled)
	if final.Refunded.Int64() == 0 {
		t.Fatalf("cancel must refund the unreleased remainder, got %s", final.Refunded)
	}

	// 取消后的轮询协程应当退出，不再有清算发生。
	withdrawnBefore := final.Withdrawn.Int64()
	clock.Store(5000)
	time.Sleep(100 * time.Millisecond)
	after, err := streams.Get(ctx, payer, payee)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Withdrawn.Int64() != withdrawnBefore {
		t.Fatalf("cancelled stream must not keep settling: %d -> %d",
			withdrawnBefore, after.Withdrawn.Int64())
	}
	cancel()
}
