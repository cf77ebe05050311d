package settlement

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/nikdmello/swift/internal/errors"
	"github.com/nikdmello/swift/internal/observability/alerting"
	"github.com/nikdmello/swift/internal/observability/metrics"
	"github.com/nikdmello/swift/internal/stream"
	"github.com/nikdmello/swift/pkg/logger"
)

const (
	CodeSettlementFailure xerrors.Code = "SETTLEMENT_FAILURE"
)

func init() {
	xerrors.Register(CodeSettlementFailure, xerrors.Attributes{
		Message:   "stream settlement failed",
		Severity:  xerrors.SeverityCritical,
		Retryable: true,
		Alert:     true,
	})
}

// 轮询与容错的默认参数。
const (
	defaultInterval    = 5 * time.Second
	maxConsecutiveFail = 5
)

// Processor 是自动清算器：订阅开流事件，为每条活跃流维护一个
// 轮询协程，按固定间隔把应计资金划给接收方，直到流进入终态。
// 时间一律取自注入的时钟，方便测试推动虚拟时间。
type Processor struct {
	streams  *stream.Service
	consumer stream.Consumer

	interval time.Duration
	clock    func() int64
	workers  int
	logger   *slog.Logger
	alerter  alerting.Dispatcher

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithInterval 设置轮询间隔。
func WithInterval(interval time.Duration) ProcessorOption {
	return func(p *Processor) {
		if interval > 0 {
			p.interval = interval
		}
	}
}

// WithClock 注入时间源，默认取系统时间。
func WithClock(clock func() int64) ProcessorOption {
	return func(p *Processor) {
		if clock != nil {
			p.clock = clock
		}
	}
}

// WithWorkerCount 设置事件消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workers = workers
		}
	}
}

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造自动清算器。
func NewProcessor(streams *stream.Service, consumer stream.Consumer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		streams:  streams,
		consumer: consumer,
		interval: defaultInterval,
		clock:    func() int64 { return time.Now().Unix() },
		workers:  1,
		loops:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动清算循环。先为重启前遗留的活跃流恢复轮询，
// 再阻塞消费开流事件，直到上下文取消。
func (p *Processor) Start(ctx context.Context) error {
	if p.streams == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置支付流服务")
	}
	if err := p.recover(ctx); err != nil {
		return err
	}
	if p.consumer == nil {
		<-ctx.Done()
		p.wg.Wait()
		return ctx.Err()
	}
	err := p.consumer.Consume(ctx, p.workers, p.handle)
	p.wg.Wait()
	return err
}

// recover 扫描存储中仍处于活跃状态的流并恢复轮询。
func (p *Processor) recover(ctx context.Context) error {
	const pageSize = 100
	for offset := 0; ; offset += pageSize {
		page, err := p.streams.List(ctx,
			stream.WithStatuses(stream.StatusActive),
			stream.WithLimit(pageSize),
			stream.WithOffset(offset),
		)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "恢复活跃流失败")
		}
		for _, record := range page {
			p.startLoop(ctx, record.Sender, record.Recipient)
		}
		if len(page) < pageSize {
			return nil
		}
	}
}

func (p *Processor) handle(ctx context.Context, event stream.Event) error {
	switch event.Type {
	case stream.EventStreamOpened:
		p.startLoop(ctx, event.Sender, event.Recipient)
	case stream.EventStreamCancelled, stream.EventStreamExpired:
		p.stopLoop(event.Sender, event.Recipient)
	}
	return nil
}

// startLoop 为地址对启动轮询协程，已存在时不重复启动。
func (p *Processor) startLoop(ctx context.Context, sender, recipient common.Address) {
	key := stream.PairKey(sender, recipient)

	p.mu.Lock()
	if _, ok := p.loops[key]; ok {
		p.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	p.loops[key] = cancel
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.stopLoop(sender, recipient)
		p.run(loopCtx, sender, recipient)
	}()
	p.logDebug("已启动自动清算",
		slog.String("sender", sender.Hex()),
		slog.String("recipient", recipient.Hex()),
	)
}

// stopLoop 终止地址对的轮询协程。
func (p *Processor) stopLoop(sender, recipient common.Address) {
	key := stream.PairKey(sender, recipient)

	p.mu.Lock()
	cancel, ok := p.loops[key]
	if ok {
		delete(p.loops, key)
	}
	p.mu.Unlock()

	if ok {
		cancel()
	}
}

// run 是单条流的轮询主体，流进入终态或连续失败过多时退出。
func (p *Processor) run(ctx context.Context, sender, recipient common.Address) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		done, err := p.settle(ctx, sender, recipient)
		if err != nil {
			failures++
			metrics.ObserveSettlement("withdraw", false)
			logger.L().Error("自动清算失败",
				slog.Any("error", err),
				slog.String("sender", sender.Hex()),
				slog.String("recipient", recipient.Hex()),
				slog.Int("failures", failures),
			)
			if failures >= maxConsecutiveFail {
				p.emitAlert(ctx, sender, recipient, err, failures)
				return
			}
			continue
		}
		failures = 0
		if done {
			return
		}
	}
}

// settle 执行一次清算。返回 true 表示流已进入终态，轮询可以结束。
func (p *Processor) settle(ctx context.Context, sender, recipient common.Address) (bool, error) {
	now := p.clock()

	record, err := p.streams.Get(ctx, sender, recipient)
	if err != nil {
		if stdErrors.Is(err, stream.ErrStreamNotFound) {
			return true, nil
		}
		return false, err
	}
	if !record.Active() {
		return true, nil
	}

	owed, err := p.streams.Owed(ctx, sender, recipient, now)
	if err != nil {
		return false, err
	}
	if owed.Sign() <= 0 && now < record.End() {
		return false, nil
	}

	settled, err := p.streams.Withdraw(ctx, sender, recipient, recipient, now)
	if err != nil {
		return false, err
	}
	metrics.ObserveSettlement("withdraw", true)
	p.logDebug("自动清算完成",
		slog.String("sender", sender.Hex()),
		slog.String("recipient", recipient.Hex()),
		slog.String("paid", settled.Paid.String()),
		slog.Int64("settled_at", now),
	)

	if settled.Stream != nil && settled.Stream.Status != stream.StatusActive {
		metrics.ObserveSettlement("expire", true)
		return true, nil
	}
	return false, nil
}

func (p *Processor) logDebug(msg string, attrs ...slog.Attr) {
	if p.logger != nil {
		args := make([]any, len(attrs))
		for i, attr := range attrs {
			args[i] = attr
		}
		p.logger.Debug(msg, args...)
	}
}

func (p *Processor) emitAlert(ctx context.Context, sender, recipient common.Address, cause error, attempts int) {
	if p == nil || p.alerter == nil {
		return
	}
	attrs := xerrors.AttributesOf(CodeSettlementFailure)
	message := attrs.Message
	if cause != nil {
		message = cause.Error()
	}
	event := alerting.Event{
		Code:       CodeSettlementFailure,
		Message:    message,
		Severity:   attrs.Severity,
		Sender:     sender.Hex(),
		Recipient:  recipient.Hex(),
		Attempts:   attempts,
		OccurredAt: time.Now(),
	}
	if cause != nil {
		event.Metadata = map[string]string{"cause": cause.Error()}
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		logger.L().Error("告警通知失败",
			slog.Any("error", err),
			slog.String("sender", sender.Hex()),
			slog.String("recipient", recipient.Hex()),
		)
	}
}
