package messenger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/nikdmello/swift/internal/registry"
	"github.com/nikdmello/swift/internal/stream"
)

var (
	sender    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	recipient = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger  = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTestService(t *testing.T) (*Service, *stream.Service) {
	t.Helper()
	agents := registry.NewService(registry.NewMemoryStore())
	if _, err := agents.RegisterAgent(context.Background(), recipient, "receiver", ""); err != nil {
		t.Fatalf("register recipient: %v", err)
	}
	streams := stream.NewService(stream.NewLedger(stream.NewMemoryStore(), nil), nil)
	return NewService(NewMemoryStore(), agents, streams), streams
}

func TestSendMessage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, sender, recipient, "hello", 1000)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" || msg.SentAt != 1000 {
		t.Fatalf("unexpected message: %+v", msg)
	}

	got, err := svc.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Content != "hello" {
		t.Fatalf("unexpected content: %q", got.Content)
	}
}

func TestSendMessageValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, sender, recipient, "   ", 1000); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := svc.SendMessage(ctx, sender, stranger, "hi", 1000); !errors.Is(err, registry.ErrAgentNotFound) {
		t.Fatalf("expected ErrAgentNotFound for unregistered recipient, got %v", err)
	}
}

func TestSendMessageWithStream(t *testing.T) {
	svc, streams := newTestService(t)
	ctx := context.Background()

	msg, opened, err := svc.SendMessageWithStream(ctx, sender, recipient, "paid work", big.NewInt(600), 10, 1000)
	if err != nil {
		t.Fatalf("send with stream: %v", err)
	}
	if opened == nil || opened.FlowRate.Int64() != 60 {
		t.Fatalf("unexpected stream: %+v", opened)
	}
	if msg.StreamSeq != opened.Seq {
		t.Fatalf("message must reference the opened stream: %d != %d", msg.StreamSeq, opened.Seq)
	}

	// 流确实开启了，资金已托管。
	s, err := streams.Get(ctx, sender, recipient)
	if err != nil {
		t.Fatalf("get stream: %v", err)
	}
	if !s.Active() || s.Deposited.Int64() != 600 {
		t.Fatalf("unexpected stream state: %+v", s)
	}

	// 已有活跃流时整个操作失败，消息不落库。
	if _, _, err := svc.SendMessageWithStream(ctx, sender, recipient, "again", big.NewInt(600), 10, 1001); !errors.Is(err, stream.ErrStreamAlreadyActive) {
		t.Fatalf("expected ErrStreamAlreadyActive, got %v", err)
	}
	inbox, err := svc.Inbox(ctx, recipient, 10)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 {
		t.Fatalf("failed open must not deliver a message, inbox has %d", len(inbox))
	}
}

func TestInboxOrderAndLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		if _, err := svc.SendMessage(ctx, sender, recipient, "m", 1000+i); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}

	inbox, err := svc.Inbox(ctx, recipient, 3)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(inbox))
	}
	if inbox[0].SentAt != 1004 || inbox[2].SentAt != 1002 {
		t.Fatalf("expected newest first: %d, %d", inbox[0].SentAt, inbox[2].SentAt)
	}
}
