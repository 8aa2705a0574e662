// cmd/inventory-service/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"

	"github.com/segmentio/kafka-go"
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
	"depot/internal/zookeeper"
)

const serviceName = "inventory-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := bootstrap.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(serviceName, cfg.Service.LogLevel)

	// 1. 初始化核心技术组件
	tp, err := tracing.InitTracerProvider(serviceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		log.Fatalf("failed to initialize tracer provider: %v", err)
	}
	tracer := otel.Tracer(serviceName)

	db, err := infrastructure.NewMysqlDB(cfg.Infra.MySQL.DSN)
	if err != nil {
		log.Fatalf("failed to initialize mysql: %v", err)
	}
	store := infrastructure.NewGormStockStore(db, cfg.Inventory.TxTimeout)

	var redisClient *redispkg.Client
	if cfg.Infra.Redis.Addrs != "" {
		redisClient, err = redispkg.NewClient(cfg.Infra.Redis.Addrs)
		if err != nil {
			log.Fatalf("failed to initialize redis client: %v", err)
		}
	}

	// 2. 缓存和互斥锁都是可选组件，缺席只影响性能不影响正确性
	var cache port.StockCache
	if redisClient != nil {
		cache = adapter.NewStockCacheRedis(redisClient, store, cfg.Inventory.CacheTTL)
	}

	var mutex port.ProductMutex
	switch cfg.Inventory.MutexBackend {
	case "redis":
		if redisClient == nil {
			log.Fatalf("mutex_backend=redis requires infra.redis.addrs")
		}
		mutex, err = adapter.NewMutexRedisAdapter(redisClient)
		if err != nil {
			log.Fatalf("failed to initialize redis mutex: %v", err)
		}
	case "zookeeper":
		zkConn, zkErr := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, cfg.Infra.Zookeeper.SessionTimeout)
		if zkErr != nil {
			log.Fatalf("failed to connect to zookeeper: %v", zkErr)
		}
		defer zkConn.Close()
		mutex = adapter.NewMutexZookeeperAdapter(zkConn)
	case "none", "":
		mutex = nil // 引擎内部退化为 NopMutex
	default:
		log.Fatalf("unknown mutex backend %q", cfg.Inventory.MutexBackend)
	}

	// 3. 组装业务引擎和 HTTP 接口
	engine := application.NewReservationEngine(store, store, cache, mutex, tracer)

	var sweepWriter *kafka.Writer
	if len(cfg.Infra.Kafka.Brokers) > 0 {
		sweepWriter = mq.NewKafkaWriter(cfg.Infra.Kafka.Brokers, cfg.Infra.Kafka.SweepTopic)
	}
	handler := interfaces.NewInventoryHandler(engine, sweepWriter)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Service.Port,
		MetricsPort: cfg.Service.MetricsPort,
		RegisterHandlers: func(mux *http.ServeMux) {
			handler.RegisterRoutes(mux)
		},
		OnShutdown: []func(ctx context.Context){
			func(ctx context.Context) {
				if sweepWriter != nil {
					sweepWriter.Close()
				}
			},
			func(ctx context.Context) {
				if redisClient != nil {
					redisClient.Close()
				}
			},
			func(ctx context.Context) { tp.Shutdown(ctx) },
		},
	})
}
