package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/nikdmello/swift/internal/api"
	"github.com/nikdmello/swift/internal/auth"
	"github.com/nikdmello/swift/internal/config"
	"github.com/nikdmello/swift/internal/escrow"
	"github.com/nikdmello/swift/internal/messenger"
	"github.com/nikdmello/swift/internal/observability/alerting"
	"github.com/nikdmello/swift/internal/observability/metrics"
	"github.com/nikdmello/swift/internal/registry"
	"github.com/nikdmello/swift/internal/settlement"
	storage "github.com/nikdmello/swift/internal/storage/mysql"
	"github.com/nikdmello/swift/internal/stream"
	"github.com/nikdmello/swift/internal/web3"
	"github.com/nikdmello/swift/internal/web3/provider"
	"github.com/nikdmello/swift/pkg/logger"
)

// main 是 swiftd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("swiftd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("SWIFT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "swift.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Settlement: logger.SettlementLogConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.Runtime.DataDir != "" {
		if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
			return err
		}
	}

	storageCfg := storage.Config{
		DSN:             cfg.Storage.DSN,
		MaxOpenConns:    cfg.Storage.MaxOpenConns,
		MaxIdleConns:    cfg.Storage.MaxIdleConns,
		ConnMaxLifetime: cfg.Storage.ConnMaxLifetime(),
		ConnMaxIdleTime: cfg.Storage.ConnMaxIdleTime(),
	}

	var streamStore stream.Store
	var agentStore registry.Store
	var messageStore messenger.Store
	switch cfg.Storage.Driver {
	case "", "memory":
		streamStore = stream.NewMemoryStore()
		agentStore = registry.NewMemoryStore()
		messageStore = messenger.NewMemoryStore()
	case "mysql":
		ss, err := stream.NewMySQLStore(ctx, storageCfg)
		if err != nil {
			return err
		}
		streamStore = ss
		as, err := registry.NewMySQLStore(ctx, storageCfg)
		if err != nil {
			return err
		}
		agentStore = as
		ms, err := messenger.NewMySQLStore(ctx, storageCfg)
		if err != nil {
			return err
		}
		messageStore = ms
	default:
		return storage.ErrUnsupportedDriver
	}
	defer func() {
		_ = streamStore.Close()
		_ = agentStore.Close()
		_ = messageStore.Close()
	}()

	var eventQueue stream.Queue
	switch cfg.EventBus.Driver {
	case "", "memory":
		eventQueue = stream.NewMemoryQueue(1024)
	case "redis":
		queue, err := stream.NewRedisQueue(stream.RedisQueueConfig{
			Address:   cfg.EventBus.Redis.Address,
			Password:  cfg.EventBus.Redis.Password,
			DB:        cfg.EventBus.Redis.DB,
			Queue:     cfg.EventBus.Redis.Queue,
			BlockWait: cfg.EventBus.Redis.BlockWaitDuration(),
		})
		if err != nil {
			return err
		}
		eventQueue = queue
	case "rabbitmq":
		queue, err := stream.NewRabbitMQQueue(stream.RabbitMQConfig{
			URL:        cfg.EventBus.RabbitMQ.URL,
			Queue:      cfg.EventBus.RabbitMQ.Queue,
			Prefetch:   cfg.EventBus.RabbitMQ.Prefetch,
			Durable:    cfg.EventBus.RabbitMQ.Durable,
			AutoDelete: cfg.EventBus.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		eventQueue = queue
	default:
		return fmt.Errorf("未知的事件总线驱动: %s", cfg.EventBus.Driver)
	}
	defer func() {
		if err := eventQueue.Close(); err != nil {
			logger.L().Warn("关闭事件总线失败", "error", err)
		}
	}()

	// 资金划转由链上 StreamManager 合约完成，本地账本只记账。
	ledger := stream.NewLedger(streamStore, escrow.NoopVault{})
	streamService := stream.NewService(ledger, eventQueue)
	agentService := registry.NewService(agentStore)
	messageService := messenger.NewService(messageStore, agentService, streamService)

	serverOpts := []api.Option{}

	if auth.Mode(cfg.Auth.Mode) == auth.ModeToken {
		serverOpts = append(serverOpts, api.WithAuthService(auth.NewService(cfg.Auth.Mode, cfg.Auth.Tokens)))
	}

	var chainRegistry *provider.Registry
	if cfg.Web3.Enabled {
		chainRegistry, err = provider.NewRegistry(ctx, cfg.Web3)
		if err != nil {
			return err
		}
		defer chainRegistry.Close()
		serverOpts = append(serverOpts, api.WithChainRegistry(chainRegistry))
	}

	if cfg.Settlement.Enabled {
		processor := settlement.NewProcessor(streamService, eventQueue,
			settlement.WithInterval(cfg.Settlement.Interval()),
			settlement.WithWorkerCount(cfg.Settlement.Workers),
			settlement.WithProcessorLogger(logger.Named("settlement")),
			settlement.WithAlertDispatcher(alerting.NewFanout(&alerting.LogNotifier{Logger: logger.Named("alerting")})),
		)
		processorCtx, processorCancel := context.WithCancel(ctx)
		defer processorCancel()
		go func() {
			if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("清算器异常退出", "error", err)
			}
		}()
	}

	// 链上事件镜像：订阅 StreamManager 合约日志并回灌到本地事件总线。
	if chainRegistry != nil {
		if contract, ok := chainRegistry.DefaultStreamManager(); ok {
			client, err := chainRegistry.DefaultClient()
			if err != nil {
				return err
			}
			watcher := web3.NewWatcher(client, contract, eventQueue)
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.L().Error("链上事件监听退出", "error", err)
				}
			}()
		}
	}

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务退出", "error", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, streamService, agentService, messageService, serverOpts...)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
