// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 是显式传递的配置对象：在 main 中构造一次，逐层注入，
// 核心代码里没有进程级单例。
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Infra     InfraConfig     `yaml:"infra"`
	Inventory InventoryConfig `yaml:"inventory"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	LogLevel    string `yaml:"log_level"`
}

type InfraConfig struct {
	MySQL     MySQLConfig     `yaml:"mysql"`
	Redis     RedisConfig     `yaml:"redis"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Jaeger    JaegerConfig    `yaml:"jaeger"`
}

type MySQLConfig struct {
	DSN string `yaml:"dsn"`
}

type RedisConfig struct {
	// Addrs 为逗号分隔的地址列表，留空表示不启用 Redis
	Addrs string `yaml:"addrs"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type KafkaConfig struct {
	Brokers          []string `yaml:"brokers"`
	SweepTopic       string   `yaml:"sweep_topic"`
	SweepResultTopic string   `yaml:"sweep_result_topic"`
	SweepGroupID     string   `yaml:"sweep_group_id"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type InventoryConfig struct {
	// MutexBackend: redis / zookeeper / none
	MutexBackend   string        `yaml:"mutex_backend"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	TxTimeout      time.Duration `yaml:"tx_timeout"`
	SweepBatchSize int           `yaml:"sweep_batch_size"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
}

// Load 读取 yaml 配置文件并套用环境变量覆盖。
// 文件不存在时退回纯默认值 + 环境变量，方便容器环境零配置启动。
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.Infra.MySQL.DSN = getEnv("MYSQL_DSN", cfg.Infra.MySQL.DSN)
	cfg.Infra.Redis.Addrs = getEnv("REDIS_ADDRS", cfg.Infra.Redis.Addrs)
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", cfg.Infra.Jaeger.Endpoint)
	cfg.Inventory.MutexBackend = getEnv("MUTEX_BACKEND", cfg.Inventory.MutexBackend)
	return cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Service.Port = 8080
	cfg.Service.MetricsPort = 8081
	cfg.Service.LogLevel = "info"
	cfg.Infra.MySQL.DSN = "root:123456@tcp(localhost:3306)/inventory?charset=utf8mb4&parseTime=True&loc=UTC"
	cfg.Infra.Redis.Addrs = "localhost:6379"
	cfg.Infra.Zookeeper.SessionTimeout = 10 * time.Second
	cfg.Infra.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Infra.Kafka.SweepTopic = "inventory-cleanup"
	cfg.Infra.Kafka.SweepResultTopic = "inventory-cleanup-results"
	cfg.Infra.Kafka.SweepGroupID = "inventory-sweep-group"
	cfg.Infra.Jaeger.Endpoint = "http://localhost:14268/api/traces"
	cfg.Inventory.MutexBackend = "redis"
	cfg.Inventory.CacheTTL = 300 * time.Second
	cfg.Inventory.TxTimeout = 10 * time.Second
	cfg.Inventory.SweepBatchSize = 500
	cfg.Inventory.SweepInterval = time.Minute
	return cfg
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
