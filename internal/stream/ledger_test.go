package stream

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	carol = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTestLedger() *Ledger {
	return NewLedger(NewMemoryStore(), nil)
}

func assertConservation(t *testing.T, s *Stream) {
	t.Helper()
	sum := new(big.Int).Add(s.Withdrawn, s.Refunded)
	sum.Add(sum, s.Balance)
	if sum.Cmp(s.Deposited) != 0 {
		t.Fatalf("资金不守恒: deposited=%s withdrawn=%s refunded=%s balance=%s",
			s.Deposited, s.Withdrawn, s.Refunded, s.Balance)
	}
}

func TestLedgerOpenComputesFlowRate(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	s, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.FlowRate.Int64() != 60 {
		t.Fatalf("expected flow rate 60, got %s", s.FlowRate)
	}
	if s.Balance.Int64() != 600 || s.Deposited.Int64() != 600 {
		t.Fatalf("unexpected escrow amounts: balance=%s deposited=%s", s.Balance, s.Deposited)
	}
	if s.Seq != 1 || s.Status != StatusActive {
		t.Fatalf("unexpected stream metadata: seq=%d status=%s", s.Seq, s.Status)
	}
	assertConservation(t, s)
}

func TestLedgerOpenRejectsInvalidInput(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	cases := []struct {
		name     string
		total    *big.Int
		duration int64
	}{
		{"zero amount", big.NewInt(0), 10},
		{"negative amount", big.NewInt(-5), 10},
		{"nil amount", nil, 10},
		{"zero duration", big.NewInt(100), 0},
		{"negative duration", big.NewInt(100), -1},
		{"amount below duration", big.NewInt(5), 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ledger.Open(ctx, alice, bob, tc.total, tc.duration, 1000); err == nil {
				t.Fatalf("expected rejection for %s", tc.name)
			}
		})
	}

	if _, err := ledger.Open(ctx, alice, alice, big.NewInt(100), 10, 1000); err == nil {
		t.Fatal("expected rejection when sender equals recipient")
	}
}

func TestLedgerOpenRejectsSecondActiveStream(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(300), 10, 1001); !errors.Is(err, ErrStreamAlreadyActive) {
		t.Fatalf("expected ErrStreamAlreadyActive, got %v", err)
	}

	// 反向与不相关地址对互不影响。
	if _, err := ledger.Open(ctx, bob, alice, big.NewInt(300), 10, 1001); err != nil {
		t.Fatalf("reverse pair should be independent: %v", err)
	}
	if _, err := ledger.Open(ctx, alice, carol, big.NewInt(300), 10, 1001); err != nil {
		t.Fatalf("unrelated pair should be independent: %v", err)
	}
}

func TestLedgerOwedAccrual(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}

	cases := []struct {
		now  int64
		want int64
	}{
		{1000, 0},
		{1001, 60},
		{1005, 300},
		{1010, 600},
		{1500, 600}, // 到期后封顶
	}
	for _, tc := range cases {
		owed, err := ledger.Owed(ctx, alice, bob, tc.now)
		if err != nil {
			t.Fatalf("owed at %d: %v", tc.now, err)
		}
		if owed.Int64() != tc.want {
			t.Fatalf("owed at %d: got %s want %d", tc.now, owed, tc.want)
		}
	}

	// 不存在的流返回零而不是错误。
	owed, err := ledger.Owed(ctx, carol, bob, 1005)
	if err != nil {
		t.Fatalf("owed for missing stream: %v", err)
	}
	if owed.Sign() != 0 {
		t.Fatalf("expected zero owed for missing stream, got %s", owed)
	}
}

func TestLedgerWithdrawAdvancesSettlement(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}

	settled, err := ledger.Withdraw(ctx, alice, bob, bob, 1004)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if settled.Paid.Int64() != 240 {
		t.Fatalf("expected paid 240, got %s", settled.Paid)
	}
	assertConservation(t, settled.Stream)

	// 同一时刻重复提取不会重复支付。
	again, err := ledger.Withdraw(ctx, alice, bob, bob, 1004)
	if err != nil {
		t.Fatalf("repeat withdraw: %v", err)
	}
	if again.Paid.Sign() != 0 {
		t.Fatalf("repeat withdraw at same instant must pay zero, got %s", again.Paid)
	}

	// 后续提取只支付新应计的部分。
	later, err := ledger.Withdraw(ctx, alice, bob, bob, 1007)
	if err != nil {
		t.Fatalf("later withdraw: %v", err)
	}
	if later.Paid.Int64() != 180 {
		t.Fatalf("expected paid 180, got %s", later.Paid)
	}
	assertConservation(t, later.Stream)
}

func TestLedgerWithdrawRequiresRecipient(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ledger.Withdraw(ctx, alice, bob, alice, 1005); !errors.Is(err, ErrNotRecipient) {
		t.Fatalf("expected ErrNotRecipient, got %v", err)
	}
	if _, err := ledger.Cancel(ctx, alice, bob, bob, 1005); !errors.Is(err, ErrNotSender) {
		t.Fatalf("expected ErrNotSender, got %v", err)
	}
}

func TestLedgerExpiryRefundsDust(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	// 100 / 7 = 14，7 秒共释放 98，零头 2 在到期时退回发送方。
	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(100), 7, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}

	settled, err := ledger.Withdraw(ctx, alice, bob, bob, 2000)
	if err != nil {
		t.Fatalf("withdraw after expiry: %v", err)
	}
	if settled.Paid.Int64() != 98 {
		t.Fatalf("expected paid 98, got %s", settled.Paid)
	}
	if settled.Refund.Int64() != 2 {
		t.Fatalf("expected dust refund 2, got %s", settled.Refund)
	}
	if settled.Stream.Status != StatusExpired {
		t.Fatalf("expected expired status, got %s", settled.Stream.Status)
	}
	if settled.Stream.Balance.Sign() != 0 {
		t.Fatalf("terminal stream must hold zero balance, got %s", settled.Stream.Balance)
	}
	assertConservation(t, settled.Stream)

	// 终态后的提取是良性空操作。
	again, err := ledger.Withdraw(ctx, alice, bob, bob, 3000)
	if err != nil {
		t.Fatalf("withdraw on expired stream: %v", err)
	}
	if again.Paid.Sign() != 0 || again.Refund.Sign() != 0 {
		t.Fatalf("expired stream must not move funds: paid=%s refund=%s", again.Paid, again.Refund)
	}
}

func TestLedgerCancelPaysAccruedThenRefunds(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}

	settled, err := ledger.Cancel(ctx, alice, bob, alice, 1004)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if settled.Paid.Int64() != 240 {
		t.Fatalf("expected paid 240, got %s", settled.Paid)
	}
	if settled.Refund.Int64() != 360 {
		t.Fatalf("expected refund 360, got %s", settled.Refund)
	}
	if settled.Stream.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", settled.Stream.Status)
	}
	assertConservation(t, settled.Stream)

	// 取消之后不再累积应计金额。
	owed, err := ledger.Owed(ctx, alice, bob, 5000)
	if err != nil {
		t.Fatalf("owed after cancel: %v", err)
	}
	if owed.Sign() != 0 {
		t.Fatalf("cancelled stream must not accrue, got %s", owed)
	}

	// 重复取消是良性空操作。
	again, err := ledger.Cancel(ctx, alice, bob, alice, 1010)
	if err != nil {
		t.Fatalf("repeat cancel: %v", err)
	}
	if again.Paid.Sign() != 0 || again.Refund.Sign() != 0 {
		t.Fatalf("repeat cancel must not move funds: paid=%s refund=%s", again.Paid, again.Refund)
	}
}

func TestLedgerCancelMissingStreamIsNoop(t *testing.T) {
	ledger := newTestLedger()

	settled, err := ledger.Cancel(context.Background(), alice, bob, alice, 1000)
	if err != nil {
		t.Fatalf("cancel missing stream: %v", err)
	}
	if settled.Paid.Sign() != 0 || settled.Refund.Sign() != 0 {
		t.Fatalf("missing stream must not move funds: %+v", settled)
	}
}

func TestLedgerReopenAfterCancel(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ledger.Cancel(ctx, alice, bob, alice, 1004); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	reopened, err := ledger.Open(ctx, alice, bob, big.NewInt(300), 5, 2000)
	if err != nil {
		t.Fatalf("reopen after cancel: %v", err)
	}
	if reopened.Seq != 2 {
		t.Fatalf("expected seq 2 for reopened stream, got %d", reopened.Seq)
	}
	if reopened.FlowRate.Int64() != 60 {
		t.Fatalf("expected flow rate 60, got %s", reopened.FlowRate)
	}

	history, err := ledger.History(ctx, alice, bob)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(history))
	}
	if history[0].Status != StatusCancelled || history[1].Status != StatusActive {
		t.Fatalf("unexpected generation statuses: %s, %s", history[0].Status, history[1].Status)
	}
}

func TestLedgerRejectsClockRollback(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	if _, err := ledger.Open(ctx, alice, bob, big.NewInt(600), 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := ledger.Withdraw(ctx, alice, bob, bob, 1005); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if _, err := ledger.Withdraw(ctx, alice, bob, bob, 1003); !errors.Is(err, ErrArithmeticOverflow) {
		t.Fatalf("expected clock rollback rejection, got %v", err)
	}
}

func TestLedgerConcurrentWithdrawAndCancel(t *testing.T) {
	ledger := newTestLedger()
	ctx := context.Background()

	total := big.NewInt(600)
	if _, err := ledger.Open(ctx, alice, bob, total, 10, 1000); err != nil {
		t.Fatalf("open: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(offset int64) {
			defer wg.Done()
			_, err := ledger.Withdraw(ctx, alice, bob, bob, 1001+offset)
			if err != nil && !errors.Is(err, ErrArithmeticOverflow) {
				t.Errorf("withdraw: %v", err)
			}
		}(int64(i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := ledger.Cancel(ctx, alice, bob, alice, 1009); err != nil && !errors.Is(err, ErrArithmeticOverflow) {
			t.Errorf("cancel: %v", err)
		}
	}()
	wg.Wait()

	final, err := ledger.Get(ctx, alice, bob)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	assertConservation(t, final)
	if final.Active() {
		// 取消可能先于部分提取执行，但终态一定包含 cancelled。
		t.Fatalf("expected terminal stream after cancel, got %s", final.Status)
	}
	if final.Balance.Sign() != 0 {
		t.Fatalf("terminal stream must hold zero balance, got %s", final.Balance)
	}
}
