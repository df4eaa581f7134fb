// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raouf-b-dev/ecommerce-store-api-sub001/internal/pkg/database"
)

// Config 是服务的完整配置：YAML 文件 -> 环境变量覆盖 -> Nacos 配置中心覆盖。
type Config struct {
	App      AppConfig      `yaml:"app"`
	Infra    InfraConfig    `yaml:"infra"`
	Queue    QueueConfig    `yaml:"queue"`
	Checkout CheckoutConfig `yaml:"checkout"`
}

type AppConfig struct {
	Name      string `yaml:"name"`
	Env       string `yaml:"env"`
	Port      int    `yaml:"port"`
	LogLevel  string `yaml:"logLevel"`
	LogPretty bool   `yaml:"logPretty"`
}

type InfraConfig struct {
	Jaeger    JaegerConfig    `yaml:"jaeger"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  database.Config `yaml:"database"`
	Zookeeper ZookeeperConfig `yaml:"zookeeper"`
	Nacos     NacosConfig     `yaml:"nacos"`
}

type JaegerConfig struct {
	Endpoint string `yaml:"endpoint"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	TopicPrefix string   `yaml:"topicPrefix"`
	GroupID     string   `yaml:"groupId"`
}

type RedisConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"sessionTimeout"`
}

type NacosConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addrs     string `yaml:"addrs"`
	Namespace string `yaml:"namespace"`
	Group     string `yaml:"group"`
	DataID    string `yaml:"dataId"`
}

// QueueConfig 配置任务队列。Driver 取值 memory / kafka。
type QueueConfig struct {
	Driver      string        `yaml:"driver"`
	Workers     int           `yaml:"workers"`
	MaxAttempts int           `yaml:"maxAttempts"`
	Backoff     time.Duration `yaml:"backoff"`
}

type CheckoutConfig struct {
	ReservationTTL    time.Duration     `yaml:"reservationTTL"`
	PendingPaymentTTL time.Duration     `yaml:"pendingPaymentTTL"`
	SweepInterval     time.Duration     `yaml:"sweepInterval"`
	SweepFilter       string            `yaml:"sweepFilter"`
	CartServiceURL    string            `yaml:"cartServiceURL"`
	Gateways          map[string]string `yaml:"gateways"` // 支付方式 -> 网关服务地址
}

// Default 返回本地开发可直接运行的配置。
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "checkout-worker", Env: "dev", Port: 8080, LogLevel: "info"},
		Infra: InfraConfig{
			Jaeger: JaegerConfig{Endpoint: "http://localhost:14268/api/traces"},
			Kafka:  KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "checkout-worker"},
			Redis:  RedisConfig{Addrs: []string{"localhost:6379"}},
			Database: database.Config{
				Driver: "memory", Host: "localhost", Port: 3306, User: "root", Name: "ecommerce",
				MaxOpenConns: 20, MaxIdleConns: 5, ConnMaxLifetime: time.Hour,
			},
			Zookeeper: ZookeeperConfig{Servers: []string{"localhost:2181"}, SessionTimeout: 10 * time.Second},
			Nacos:     NacosConfig{Addrs: "localhost:8848", Group: "DEFAULT_GROUP", DataID: "checkout-worker.yaml"},
		},
		Queue: QueueConfig{Driver: "memory", Workers: 4, MaxAttempts: 5, Backoff: 2 * time.Second},
		Checkout: CheckoutConfig{
			ReservationTTL:    15 * time.Minute,
			PendingPaymentTTL: 30 * time.Minute,
			SweepInterval:     time.Minute,
			CartServiceURL:    "http://localhost:3000",
			Gateways:          map[string]string{},
		},
	}
}

var current atomic.Pointer[Config]

// GetCurrentConfig 返回当前生效的配置快照。
func GetCurrentConfig() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	return Default()
}

func setCurrentConfig(c *Config) {
	current.Store(c)
}

// LoadConfig 读取 YAML（path 为空或文件不存在时使用默认值），再用环境变量覆盖。
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	setCurrentConfig(cfg)
	return cfg, nil
}

// MergeYAML 把配置中心下发的 YAML 覆盖到 base 的副本上。
func MergeYAML(base *Config, content string) (*Config, error) {
	raw, err := yaml.Marshal(base)
	if err != nil {
		return nil, err
	}
	merged := Default()
	if err := yaml.Unmarshal(raw, merged); err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal([]byte(content), merged); err != nil {
		return nil, fmt.Errorf("parse remote config: %w", err)
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *Config) Validate() error {
	switch c.Queue.Driver {
	case "memory", "kafka":
	default:
		return fmt.Errorf("queue.driver must be memory or kafka, got %q", c.Queue.Driver)
	}
	if c.Queue.Driver == "kafka" && len(c.Infra.Kafka.Brokers) == 0 {
		return fmt.Errorf("infra.kafka.brokers is required for the kafka queue driver")
	}
	switch c.Infra.Database.Driver {
	case "memory", "mysql", "postgres":
	default:
		return fmt.Errorf("infra.database.driver must be memory, mysql or postgres, got %q", c.Infra.Database.Driver)
	}
	if c.Checkout.ReservationTTL <= 0 {
		return fmt.Errorf("checkout.reservationTTL must be positive")
	}
	if c.Checkout.PendingPaymentTTL <= 0 {
		return fmt.Errorf("checkout.pendingPaymentTTL must be positive")
	}
	return nil
}

func applyEnv(c *Config) {
	c.App.Name = getEnv("APP_NAME", c.App.Name)
	c.App.Env = getEnv("APP_ENV", c.App.Env)
	c.App.Port = getEnvInt("APP_PORT", c.App.Port)
	c.App.LogLevel = getEnv("LOG_LEVEL", c.App.LogLevel)

	c.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", c.Infra.Jaeger.Endpoint)
	c.Infra.Kafka.Brokers = getEnvList("KAFKA_BROKERS", c.Infra.Kafka.Brokers)
	c.Infra.Kafka.TopicPrefix = getEnv("KAFKA_TOPIC_PREFIX", c.Infra.Kafka.TopicPrefix)
	c.Infra.Redis.Addrs = getEnvList("REDIS_ADDRS", c.Infra.Redis.Addrs)
	c.Infra.Redis.Password = getEnv("REDIS_PASSWORD", c.Infra.Redis.Password)
	c.Infra.Zookeeper.Servers = getEnvList("ZOOKEEPER_SERVERS", c.Infra.Zookeeper.Servers)

	c.Infra.Database.Driver = getEnv("DB_DRIVER", c.Infra.Database.Driver)
	c.Infra.Database.Host = getEnv("DB_HOST", c.Infra.Database.Host)
	c.Infra.Database.Port = getEnvInt("DB_PORT", c.Infra.Database.Port)
	c.Infra.Database.User = getEnv("DB_USER", c.Infra.Database.User)
	c.Infra.Database.Password = getEnv("DB_PASSWORD", c.Infra.Database.Password)
	c.Infra.Database.Name = getEnv("DB_NAME", c.Infra.Database.Name)

	c.Infra.Nacos.Enabled = getEnvBool("NACOS_ENABLED", c.Infra.Nacos.Enabled)
	c.Infra.Nacos.Addrs = getEnv("NACOS_SERVER_ADDRS", c.Infra.Nacos.Addrs)
	c.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", c.Infra.Nacos.Namespace)
	c.Infra.Nacos.Group = getEnv("NACOS_GROUP", c.Infra.Nacos.Group)

	c.Queue.Driver = getEnv("QUEUE_DRIVER", c.Queue.Driver)
	c.Queue.Workers = getEnvInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Checkout.SweepFilter = getEnv("SWEEP_FILTER", c.Checkout.SweepFilter)
	c.Checkout.CartServiceURL = getEnv("CART_SERVICE_URL", c.Checkout.CartServiceURL)
}

// getEnv 是一个内部辅助函数，从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return strings.Split(v, ",")
	}
	return fallback
}
