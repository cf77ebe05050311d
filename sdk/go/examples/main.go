package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync/atomic"
	"time"

	"github.com/nikdmello/swift/internal/api"
	"github.com/nikdmello/swift/internal/messenger"
	"github.com/nikdmello/swift/internal/registry"
	"github.com/nikdmello/swift/internal/stream"
	"github.com/nikdmello/swift/sdk/go/swift"
)

const (
	sender    = "0x1111111111111111111111111111111111111111"
	recipient = "0x2222222222222222222222222222222222222222"
)

// 演示通过 SDK 驱动一条完整的支付流：开流、查询应计、提取、取消。
// 服务端运行在进程内，时间由演示程序手动推进。
func main() {
	streams := stream.NewService(stream.NewLedger(stream.NewMemoryStore(), nil), nil)
	agents := registry.NewService(registry.NewMemoryStore())
	messages := messenger.NewService(messenger.NewMemoryStore(), agents, streams)

	clock := &atomic.Int64{}
	clock.Store(1_700_000_000)

	server := api.NewServer(":0", streams, agents, messages, api.WithClock(clock.Load))
	srv := httptest.NewServer(server.Handler())
	defer srv.Close()

	client := swift.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.RegisterAgent(ctx, swift.RegisterAgentRequest{
		Address: recipient,
		Name:    "translator",
	}); err != nil {
		panic(err)
	}
	fmt.Println("registered recipient agent")

	opened, err := client.OpenStream(ctx, swift.OpenStreamRequest{
		Sender:      sender,
		Recipient:   recipient,
		TotalAmount: "600",
		Duration:    10,
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("opened stream seq=%d flow_rate=%s wei/s\n", opened.Seq, opened.FlowRate)

	// 推进 5 秒，一半资金已释放。
	clock.Add(5)
	owed, err := client.GetOwed(ctx, sender, recipient)
	if err != nil {
		panic(err)
	}
	fmt.Printf("owed after 5s: %s wei\n", owed.Owed)

	client.SetCaller(recipient)
	settled, err := client.Withdraw(ctx, sender, recipient)
	if err != nil {
		panic(err)
	}
	fmt.Printf("withdrawn: %s wei\n", settled.Paid)

	// 发送方在第 8 秒终止，余下的托管退回。
	clock.Add(3)
	client.SetCaller(sender)
	cancelled, err := client.CancelStream(ctx, sender, recipient)
	if err != nil {
		panic(err)
	}
	fmt.Printf("cancelled: paid=%s refund=%s\n", cancelled.Paid, cancelled.Refund)

	history, err := client.History(ctx, sender, recipient)
	if err != nil {
		panic(err)
	}
	fmt.Printf("history records: %d (final status %s)\n", len(history), history[len(history)-1].Status)
}
