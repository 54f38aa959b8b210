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
	"time"

	"ChainPilot/internal/api"
	"ChainPilot/internal/assistant/remote"
	"ChainPilot/internal/bundle"
	"ChainPilot/internal/config"
	"ChainPilot/internal/conversation"
	"ChainPilot/internal/executor"
	"ChainPilot/internal/executor/relay"
	"ChainPilot/internal/executor/wallet"
	"ChainPilot/internal/intent"
	"ChainPilot/internal/observability/alerting"
	"ChainPilot/internal/observability/metrics"
	"ChainPilot/internal/policy"
	storagemysql "ChainPilot/internal/storage/mysql"
	"ChainPilot/internal/web3/provider"
	"ChainPilot/pkg/logger"
)

// main 是 ChainPilot 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chainpilotd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("CHAINPILOT_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "chainpilot.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
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

	policyCfg, err := policy.Load(cfg.Policy.Path)
	if err != nil {
		return err
	}

	// 会话与交易包共用同一个存储后端。
	var convStore conversation.Store
	var bundleStore bundle.Store
	switch cfg.Storage.Driver {
	case "", "memory":
		convStore = conversation.NewMemoryStore()
		bundleStore = bundle.NewMemoryStore()
	case "mysql":
		if err := storagemysql.Migrate(ctx, storagemysql.Config{DSN: cfg.Storage.DSN}); err != nil {
			return err
		}
		cs, err := conversation.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		convStore = cs
		bs, err := bundle.NewMySQLStore(cfg.Storage.DSN)
		if err != nil {
			return err
		}
		bundleStore = bs
	default:
		return fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
	defer func() {
		if convStore != nil {
			_ = convStore.Close()
		}
	}()

	var execQueue bundle.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		execQueue = bundle.NewMemoryQueue(1024)
	case "redis":
		queue, err := bundle.NewRedisQueue(bundle.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Address,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
		if err != nil {
			return err
		}
		execQueue = queue
	case "rabbitmq":
		queue, err := bundle.NewRabbitMQQueue(bundle.RabbitMQConfig{
			URL:      cfg.Queue.RabbitMQ.URL,
			Queue:    cfg.Queue.RabbitMQ.Queue,
			Prefetch: cfg.Queue.RabbitMQ.Prefetch,
			Durable:  cfg.Queue.RabbitMQ.Durable,
		})
		if err != nil {
			return err
		}
		execQueue = queue
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}

	chainRegistry, err := provider.NewRegistry(ctx, cfg.Web3)
	if err != nil {
		return err
	}
	defer chainRegistry.Close()

	assistantClient, err := remote.NewClient(remote.Config{
		Endpoint: cfg.Assistant.Endpoint,
		APIKey:   cfg.Assistant.APIKey,
		Timeout:  time.Duration(cfg.Assistant.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	relayClient, err := relay.NewClient(relay.Config{
		Endpoint: cfg.Relay.Endpoint,
		APIKey:   cfg.Relay.APIKey,
		Timeout:  time.Duration(cfg.Relay.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return err
	}

	var signer executor.Signer
	if cfg.Signer.Endpoint != "" {
		walletSigner, err := wallet.NewSigner(wallet.Config{
			Endpoint: cfg.Signer.Endpoint,
			Timeout:  time.Duration(cfg.Signer.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		signer = walletSigner
	}

	encoder, err := executor.NewEncoder()
	if err != nil {
		return err
	}
	exec, err := executor.New(encoder, signer, relayClient)
	if err != nil {
		return err
	}

	bundleService := bundle.NewService(bundleStore, execQueue,
		bundle.WithReviewTimeout(time.Duration(cfg.Policy.ReviewTimeoutSeconds)*time.Second),
	)
	defer func() {
		_ = bundleService.Close()
	}()

	extractor := intent.NewExtractor(policyCfg.DefaultTokenContract, policyCfg.NativeSymbol)
	validator := policy.NewValidator(policyCfg)

	orchestrator := conversation.NewOrchestrator(
		convStore,
		assistantClient,
		extractor,
		validator,
		bundleService,
		conversation.WithAssistantTimeout(time.Duration(cfg.Assistant.TimeoutSeconds)*time.Second),
		conversation.WithChainReader(chainRegistry),
	)

	processor := bundle.NewProcessor(exec, bundleStore, execQueue,
		bundle.WithWorkerCount(cfg.Queue.WorkerCount),
		bundle.WithProcessorLogger(logger.L()),
		bundle.WithAlertDispatcher(buildAlertDispatcher(cfg.Alerting)),
		bundle.WithResultSink(orchestrator.OnExecutionResult),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("执行处理器异常退出: %v", err)
		}
	}()

	if cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("指标服务异常退出: %v", err)
			}
		}()
	}

	server := api.NewServer(cfg.Server.Address, orchestrator, bundleService, chainRegistry)

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func buildAlertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	notifiers := make([]alerting.Notifier, 0, 3)
	if cfg.Email.Enabled {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender: &alerting.SMTPSender{
				Host:     cfg.Email.SMTPHost,
				Port:     cfg.Email.SMTPPort,
				Username: cfg.Email.Username,
				Password: cfg.Email.Password,
				From:     cfg.Email.From,
			},
			To:            cfg.Email.Recipients,
			SubjectPrefix: "[chainpilot]",
		})
	}
	if cfg.DingTalk.Enabled {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.WebhookSender{Webhook: cfg.DingTalk.Webhook},
		})
	}
	if cfg.Slack.Enabled {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhookSender{WebhookSender: alerting.WebhookSender{Webhook: cfg.Slack.Webhook}},
			ChannelID: "alerts",
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
