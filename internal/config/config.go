package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

const (
	LockBackendRedis     = "redis"
	LockBackendZookeeper = "zookeeper"
)

type Config struct {
	ServiceName string          `yaml:"service_name"`
	HTTP        HTTPConfig      `yaml:"http"`
	GRPC        GRPCConfig      `yaml:"grpc"`
	MySQL       MySQLConfig     `yaml:"mysql"`
	Redis       RedisConfig     `yaml:"redis"`
	Cache       CacheConfig     `yaml:"cache"`
	Lock        LockConfig      `yaml:"lock"`
	Zookeeper   ZookeeperConfig `yaml:"zookeeper"`
	Kafka       KafkaConfig     `yaml:"kafka"`
	Cart        CartConfig      `yaml:"cart"`
	Log         LogConfig       `yaml:"log"`
	Tracing     TracingConfig   `yaml:"tracing"`
}

type HTTPConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type GRPCConfig struct {
	Port           int           `yaml:"port"`
	HealthInterval time.Duration `yaml:"health_interval"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type CacheConfig struct {
	CartTTL time.Duration `yaml:"cart_ttl"`
}

type LockConfig struct {
	Backend     string        `yaml:"backend"`
	TTL         time.Duration `yaml:"ttl"`
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	RetryJitter time.Duration `yaml:"retry_jitter"`
}

type ZookeeperConfig struct {
	Servers        []string      `yaml:"servers"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Workers int      `yaml:"workers"`
}

type CartConfig struct {
	MaxMutationRetries int `yaml:"max_mutation_retries"`
	PricingConcurrency int `yaml:"pricing_concurrency"`
	ReserveConcurrency int `yaml:"reserve_concurrency"`
	EventQueueSize     int `yaml:"event_queue_size"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

func Default() Config {
	return Config{
		ServiceName: "cart-service",
		HTTP: HTTPConfig{
			Port:            8080,
			ReadTimeout:     5 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		GRPC: GRPCConfig{Port: 9090, HealthInterval: 10 * time.Second},
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/cartservice?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{Addr: "localhost:6379", PoolSize: 100},
		Cache: CacheConfig{CartTTL: 10 * time.Minute},
		Lock: LockConfig{
			Backend:     LockBackendRedis,
			TTL:         2 * time.Second,
			RetryCount:  5,
			RetryDelay:  200 * time.Millisecond,
			RetryJitter: 100 * time.Millisecond,
		},
		Zookeeper: ZookeeperConfig{SessionTimeout: 5 * time.Second},
		Kafka:     KafkaConfig{Topic: "cart.checkout", Workers: 3},
		Cart: CartConfig{
			MaxMutationRetries: 3,
			PricingConcurrency: 10,
			ReserveConcurrency: 10,
			EventQueueSize:     1000,
		},
		Log:     LogConfig{Level: "info"},
		Tracing: TracingConfig{Insecure: true, SampleRatio: 1},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "parse config %s", path)
		}
	case !os.IsNotExist(err):
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv loads from CONFIG_PATH, falling back to DefaultPath.
func LoadFromEnv() (Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = DefaultPath
	}
	return Load(path)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("HTTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "HTTP_PORT")
		}
		c.HTTP.Port = port
	}
	if v, ok := lookup("GRPC_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "GRPC_PORT")
		}
		c.GRPC.Port = port
	}
	if v, ok := lookup("MYSQL_DSN"); ok {
		c.MySQL.DSN = v
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Redis.Addr = v
	}
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.Log.Level = v
	}
	if v, ok := lookup("OTEL_ENDPOINT"); ok {
		c.Tracing.Endpoint = v
	}
	if v, ok := lookup("LOCK_BACKEND"); ok {
		c.Lock.Backend = v
	}
	if v, ok := lookup("ZK_SERVERS"); ok {
		c.Zookeeper.Servers = splitList(v)
	}
	return nil
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.Errorf("http.port %d out of range", c.HTTP.Port)
	}
	if c.GRPC.Port <= 0 || c.GRPC.Port > 65535 {
		return errors.Errorf("grpc.port %d out of range", c.GRPC.Port)
	}
	if c.MySQL.DSN == "" {
		return errors.New("mysql.dsn is required")
	}
	if c.Redis.Addr == "" {
		return errors.New("redis.addr is required")
	}
	if c.Lock.TTL < time.Millisecond {
		return errors.Errorf("lock.ttl %v must be at least 1ms", c.Lock.TTL)
	}
	if c.Lock.RetryCount < 0 || c.Lock.RetryDelay < 0 || c.Lock.RetryJitter < 0 {
		return errors.New("lock retry settings must not be negative")
	}
	switch c.Lock.Backend {
	case LockBackendRedis:
	case LockBackendZookeeper:
		if len(c.Zookeeper.Servers) == 0 {
			return errors.New("zookeeper.servers is required for the zookeeper lock backend")
		}
	default:
		return errors.Errorf("unknown lock.backend %q", c.Lock.Backend)
	}
	if c.Cache.CartTTL < 0 {
		return errors.New("cache.cart_ttl must not be negative")
	}
	if c.Kafka.Workers < 1 {
		return errors.New("kafka.workers must be at least 1")
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.Errorf("tracing.sample_ratio %v must be within [0, 1]", c.Tracing.SampleRatio)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
