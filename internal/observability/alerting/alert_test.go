package alerting

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "github.com/nikdmello/swift/internal/errors"
)

type stubNotifier struct {
	channel Channel
	err     error
	events  []Event
}

func (n *stubNotifier) Channel() Channel { return n.channel }

func (n *stubNotifier) Notify(_ context.Context, event Event) error {
	n.events = append(n.events, event)
	return n.err
}

func testEvent() Event {
	return Event{
		Code:       xerrors.CodeTimeout,
		Message:    "settlement stalled",
		Severity:   xerrors.SeverityWarning,
		Sender:     "0x1111111111111111111111111111111111111111",
		Recipient:  "0x2222222222222222222222222222222222222222",
		StreamSeq:  3,
		Attempts:   5,
		OccurredAt: time.Unix(1700000000, 0),
	}
}

func TestFanoutDeliversToAllChannels(t *testing.T) {
	first := &stubNotifier{channel: ChannelLog}
	second := &stubNotifier{channel: ChannelSlack}
	dispatcher := NewFanout(first, second, nil)

	if err := dispatcher.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("期望每个渠道收到 1 条, 实际 %d/%d", len(first.events), len(second.events))
	}
}

func TestFanoutJoinsChannelErrors(t *testing.T) {
	boom := errors.New("webhook down")
	failing := &stubNotifier{channel: ChannelSlack, err: boom}
	healthy := &stubNotifier{channel: ChannelLog}

	err := NewFanout(failing, healthy).Notify(context.Background(), testEvent())
	if !errors.Is(err, boom) {
		t.Fatalf("期望透出渠道错误, 实际 %v", err)
	}
	if len(healthy.events) != 1 {
		t.Fatalf("单渠道失败不应影响其他渠道, 实际收到 %d 条", len(healthy.events))
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := &LogNotifier{}
	event := testEvent()
	event.Severity = xerrors.SeverityCritical
	event.Metadata = map[string]string{"cause": "rpc timeout"}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify: %v", err)
	}
}
