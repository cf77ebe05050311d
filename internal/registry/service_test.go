package registry

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	provider = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	rival    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestRegisterAgentIsIdempotent(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	first, err := svc.RegisterAgent(ctx, provider, "translator", "https://a.example")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.RegisteredAt == 0 {
		t.Fatal("expected registered_at to be set")
	}

	second, err := svc.RegisterAgent(ctx, provider, "translator-v2", "https://a.example")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.RegisteredAt != first.RegisteredAt {
		t.Fatalf("re-register must keep original registered_at: got %d want %d",
			second.RegisteredAt, first.RegisteredAt)
	}
	if second.Name != "translator-v2" {
		t.Fatalf("re-register must refresh metadata, got %q", second.Name)
	}

	registered, err := svc.IsRegistered(ctx, provider)
	if err != nil || !registered {
		t.Fatalf("expected registered, got %v %v", registered, err)
	}
	registered, err = svc.IsRegistered(ctx, rival)
	if err != nil || registered {
		t.Fatalf("expected unregistered, got %v %v", registered, err)
	}
}

func TestRegisterAgentRejectsZeroAddress(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if _, err := svc.RegisterAgent(context.Background(), common.Address{}, "x", ""); err == nil {
		t.Fatal("expected rejection for zero address")
	}
}

func TestRegisterServiceRequiresAgent(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.RegisterService(ctx, provider, "translation", "", big.NewInt(100)); !errors.Is(err, ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound, got %v", err)
	}

	if _, err := svc.RegisterAgent(ctx, provider, "translator", ""); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	if _, err := svc.RegisterService(ctx, provider, "  ", "", big.NewInt(100)); err == nil {
		t.Fatal("expected rejection for blank service name")
	}
	if _, err := svc.RegisterService(ctx, provider, "translation", "", nil); err == nil {
		t.Fatal("expected rejection for nil price")
	}
	if _, err := svc.RegisterService(ctx, provider, "translation", "", big.NewInt(-1)); err == nil {
		t.Fatal("expected rejection for negative price")
	}

	offering, err := svc.RegisterService(ctx, provider, "translation", "zh-en", big.NewInt(100))
	if err != nil {
		t.Fatalf("register service: %v", err)
	}
	if offering.PriceWei.Int64() != 100 {
		t.Fatalf("unexpected price: %s", offering.PriceWei)
	}
}

func TestFindProvidersSortsByPrice(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	for _, addr := range []common.Address{provider, rival} {
		if _, err := svc.RegisterAgent(ctx, addr, "agent", ""); err != nil {
			t.Fatalf("register agent: %v", err)
		}
	}
	if _, err := svc.RegisterService(ctx, provider, "Translation", "", big.NewInt(200)); err != nil {
		t.Fatalf("register service: %v", err)
	}
	if _, err := svc.RegisterService(ctx, rival, "translation", "", big.NewInt(100)); err != nil {
		t.Fatalf("register service: %v", err)
	}

	// 服务名大小写不敏感。
	offers, err := svc.FindProviders(ctx, "TRANSLATION")
	if err != nil {
		t.Fatalf("find providers: %v", err)
	}
	if len(offers) != 2 {
		t.Fatalf("expected 2 offers, got %d", len(offers))
	}
	if offers[0].Provider != rival || offers[0].PriceWei.Int64() != 100 {
		t.Fatalf("expected cheapest first, got %+v", offers[0])
	}

	none, err := svc.FindProviders(ctx, "unknown")
	if err != nil {
		t.Fatalf("find unknown: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("expected no offers, got %d", len(none))
	}
}

func TestListServicesPerProvider(t *testing.T) {
	svc := NewService(NewMemoryStore())
	ctx := context.Background()

	if _, err := svc.RegisterAgent(ctx, provider, "agent", ""); err != nil {
		t.Fatalf("register agent: %v", err)
	}
	for _, name := range []string{"translation", "summary"} {
		if _, err := svc.RegisterService(ctx, provider, name, "", big.NewInt(50)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	services, err := svc.ListServices(ctx, provider)
	if err != nil {
		t.Fatalf("list services: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("expected 2 services, got %d", len(services))
	}

	got, err := svc.GetService(ctx, provider, "summary")
	if err != nil {
		t.Fatalf("get service: %v", err)
	}
	if got.Name != "summary" {
		t.Fatalf("unexpected service: %+v", got)
	}

	if _, err := svc.GetService(ctx, provider, "missing"); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}
}
