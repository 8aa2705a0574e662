// cmd/sweep-worker/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"

	"depot/internal/pkg/bootstrap"
	"depot/internal/pkg/logger"
	"depot/internal/pkg/mq"
	redispkg "depot/internal/pkg/redis"
	"depot/internal/service/inventory/application"
	"depot/internal/service/inventory/domain/port"
	"depot/internal/service/inventory/infrastructure"
	"depot/internal/service/inventory/infrastructure/adapter"
	"depot/internal/service/inventory/interfaces"
	"depot/internal/tracing"
)

const serviceName = "sweep-worker"

// sweep-worker 是过期预占的带外清理进程：
// 默认模式下既按固定间隔自跑，也响应消息队列里的手动触发；
// -once 模式跑一轮后退出，对应运维的手动兜底清理。
// 多个 worker 实例可以并行运行，SKIP LOCKED 保证互不重叠。
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "run a single sweep and exit")
	batch := flag.Int("batch", 0, "sweep batch size, 0 means configured default")
	flag.Parse()

	cfg, err := bootstrap.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(serviceName, cfg.Service.LogLevel)

	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}
	defer tp.Shutdown(context.Background())

	db, err := infrastructure.NewMysqlDB(cfg.Infra.MySQL.DSN)
	if err != nil {
		log.Fatalf("failed to initialize mysql: %v", err)
	}
	store := infrastructure.NewGormStockStore(db, cfg.Inventory.TxTimeout)

	// 清理后同样要失效缓存，所以 worker 也持有缓存适配器
	var cache port.StockCache
	var redisClient *redispkg.Client
	if cfg.Infra.Redis.Addrs != "" {
		redisClient, err = redispkg.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			log.Fatalf("failed to initialize redis client: %v", err)
		}
		defer redisClient.Close()
		cache = adapter.NewStockCacheRedis(redisClient, store, cfg.Inventory.CacheTTL)
	}

	// 清理路径不经过互斥闸门：行圈选已经用 SKIP LOCKED 防重叠
	engine := application.NewReservationEngine(store, store, cache, nil, otel.Tracer(serviceName))

	batchSize := cfg.Inventory.SweepBatchSize
	if *batch > 0 {
		batchSize = *batch
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *once {
		cleaned, err := engine.CleanupExpired(ctx, batchSize)
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Int("cleaned", cleaned).Msg("manual sweep failed")
			os.Exit(1)
		}
		logger.Ctx(ctx).Info().Int("cleaned", cleaned).Msg("manual sweep finished")
		return
	}

	// 1. 响应消息队列里的异步触发
	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.SweepTopic, cfg.Infra.Kafka.SweepGroupID)
	resultWriter := mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.SweepResultTopic)
	defer resultWriter.Close()

	consumer := interfaces.NewSweepConsumer(reader, resultWriter, engine)
	consumer.Start(ctx)

	// 2. 定时自跑，保证没有外部触发时过期预占也会被回收
	ticker := time.NewTicker(cfg.Inventory.SweepInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := engine.CleanupExpired(ctx, batchSize); err != nil {
					logger.Ctx(ctx).Error().Err(err).Msg("scheduled sweep failed")
				}
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Ctx(ctx).Info().Msg("shutting down sweep worker...")

	cancel()
	consumer.Stop()
}
