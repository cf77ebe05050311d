package stream

import (
	"context"
)

// Handler 处理来自事件总线的支付流事件。
type Handler func(ctx context.Context, event Event) error

// Producer 负责向事件总线投递事件。
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Consumer 负责从事件总线消费事件。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
