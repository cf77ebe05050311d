package stream

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func seedStream(t *testing.T, store *MemoryStore, sender, recipient common.Address, status Status, updatedAt int64) *Stream {
	t.Helper()
	s := &Stream{
		Sender:     sender,
		Recipient:  recipient,
		Status:     StatusActive,
		StartTime:  1000,
		Duration:   10,
		LastUpdate: 1000,
		FlowRate:   big.NewInt(10),
		Balance:    big.NewInt(100),
		Deposited:  big.NewInt(100),
		Withdrawn:  new(big.Int),
		Refunded:   new(big.Int),
	}
	if err := store.Create(context.Background(), s); err != nil {
		t.Fatalf("create stream: %v", err)
	}
	if status != StatusActive || updatedAt != 0 {
		key := PairKey(sender, recipient)
		store.mu.Lock()
		history := store.streams[key]
		latest := history[len(history)-1]
		latest.Status = status
		if updatedAt != 0 {
			latest.UpdatedAt = updatedAt
		}
		store.mu.Unlock()
		s.Status = status
	}
	return s
}

func TestMemoryStoreUpdateDetectsVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedStream(t, store, alice, bob, StatusActive, 0)

	first, err := store.Get(ctx, alice, bob)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	second := first.Clone()

	first.Balance = big.NewInt(50)
	if err := store.Update(ctx, first); err != nil {
		t.Fatalf("first update: %v", err)
	}

	second.Balance = big.NewInt(25)
	if err := store.Update(ctx, second); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedStream(t, store, alice, bob, StatusActive, 100)
	seedStream(t, store, alice, carol, StatusCancelled, 200)
	seedStream(t, store, bob, carol, StatusExpired, 300)

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 streams, got %d", len(all))
	}
	if all[0].UpdatedAt != 300 {
		t.Fatalf("expected newest first, got updated_at=%d", all[0].UpdatedAt)
	}

	cancelled, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusCancelled)}))
	if err != nil {
		t.Fatalf("list cancelled: %v", err)
	}
	if len(cancelled) != 1 || cancelled[0].Recipient != carol {
		t.Fatalf("unexpected cancelled list: %+v", cancelled)
	}

	byParticipant, err := store.List(ctx, buildListOptions([]ListOption{WithParticipant(carol)}))
	if err != nil {
		t.Fatalf("list by participant: %v", err)
	}
	if len(byParticipant) != 2 {
		t.Fatalf("expected 2 streams touching carol, got %d", len(byParticipant))
	}

	bySender, err := store.List(ctx, buildListOptions([]ListOption{WithSender(alice)}))
	if err != nil {
		t.Fatalf("list by sender: %v", err)
	}
	if len(bySender) != 2 {
		t.Fatalf("expected 2 streams from alice, got %d", len(bySender))
	}

	paged, err := store.List(ctx, ListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list paged: %v", err)
	}
	if len(paged) != 1 || paged[0].UpdatedAt != 200 {
		t.Fatalf("unexpected page: %+v", paged)
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seedStream(t, store, alice, bob, StatusActive, 100)
	seedStream(t, store, alice, carol, StatusCancelled, 200)
	seedStream(t, store, bob, carol, StatusExpired, 300)

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Active != 1 || stats.Cancelled != 1 || stats.Expired != 1 {
		t.Fatalf("unexpected counts: %+v", stats)
	}
	if stats.TotalDeposited.Int64() != 300 {
		t.Fatalf("expected total deposited 300, got %s", stats.TotalDeposited)
	}
	if stats.OldestUpdatedAt != 100 || stats.NewestUpdatedAt != 300 {
		t.Fatalf("unexpected time bounds: oldest=%d newest=%d", stats.OldestUpdatedAt, stats.NewestUpdatedAt)
	}

	empty, err := store.Stats(ctx, buildListOptions([]ListOption{WithSender(carol)}))
	if err != nil {
		t.Fatalf("empty stats: %v", err)
	}
	if empty.Total != 0 || empty.OldestUpdatedAt != 0 || empty.NewestUpdatedAt != 0 {
		t.Fatalf("unexpected empty stats: %+v", empty)
	}
}

func TestMemoryStoreHistoryTracksGenerations(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first := seedStream(t, store, alice, bob, StatusCancelled, 100)
	second := seedStream(t, store, alice, bob, StatusActive, 0)

	history, err := store.History(ctx, alice, bob)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 generations, got %d", len(history))
	}
	if history[0].Seq != first.Seq || history[1].Seq != second.Seq {
		t.Fatalf("unexpected generation order: %d, %d", history[0].Seq, history[1].Seq)
	}

	latest, err := store.Get(ctx, alice, bob)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if latest.Seq != 2 || !latest.Active() {
		t.Fatalf("expected latest active generation, got seq=%d status=%s", latest.Seq, latest.Status)
	}
}
