package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"vjudge/internal/common/cache"
	"vjudge/internal/common/db"
	"vjudge/internal/common/mq"
	"vjudge/internal/common/storage"
	"vjudge/internal/vjudge/fetcher"
	"vjudge/internal/vjudge/service"
	"vjudge/pkg/utils/logger"

	"github.com/joho/godotenv"
	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultGRPCAddr        = "0.0.0.0:9090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultWaitTimeout     = 30 * time.Minute
	defaultStatusInterval  = time.Minute
	defaultStatusTTL       = 10 * time.Minute
	defaultRecordTTL       = 24 * time.Hour
	defaultLockTTL         = 10 * time.Minute
	defaultFilePrefix      = "problems"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// GRPCConfig holds the health server address.
type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the SQL dialect and pool.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // mysql or postgres
	DSN             string        `yaml:"dsn"`
	MaxOpen         int           `yaml:"maxOpen"`
	MaxIdle         int           `yaml:"maxIdle"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"clientID"`
	MinBytes     int           `yaml:"minBytes"`
	MaxBytes     int           `yaml:"maxBytes"`
	MaxWait      time.Duration `yaml:"maxWait"`
	BatchSize    int           `yaml:"batchSize"`
	BatchTimeout time.Duration `yaml:"batchTimeout"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	RequiredAcks int           `yaml:"requiredAcks"`
	Compression  string        `yaml:"compression"`
}

// FilesConfig places imported problem files in object storage.
type FilesConfig struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// HTTPClientConfig is the template of every account's fetcher.
type HTTPClientConfig struct {
	UserAgent         string            `yaml:"userAgent"`
	Timeout           time.Duration     `yaml:"timeout"`
	RequestsPerSecond float64           `yaml:"requestsPerSecond"`
	Burst             int               `yaml:"burst"`
	MaxRetries        int               `yaml:"maxRetries"`
	RetryBaseDelay    time.Duration     `yaml:"retryBaseDelay"`
	Headers           map[string]string `yaml:"headers"`
}

// VJudgeConfig tunes the remote judge workers.
type VJudgeConfig struct {
	Host           string        `yaml:"host"`
	Providers      []string      `yaml:"providers"`
	Queue          string        `yaml:"queue"` // kafka or memory
	LoginInterval  time.Duration `yaml:"loginInterval"`
	ResyncInterval time.Duration `yaml:"resyncInterval"`
	SyncDelay      time.Duration `yaml:"syncDelay"`
	// WaitTimeout defaults to 30m; a negative value disables the watchdog.
	WaitTimeout      time.Duration `yaml:"waitTimeout"`
	StatusTimeout    time.Duration `yaml:"statusTimeout"`
	StatusInterval   time.Duration `yaml:"statusInterval"`
	StatusTTL        time.Duration `yaml:"statusTTL"`
	RecordTTL        time.Duration `yaml:"recordTTL"`
	LockTTL          time.Duration `yaml:"lockTTL"`
	ProblemOwner     int64         `yaml:"problemOwner"`
	CredentialSecret string        `yaml:"credentialSecret"`
}

// AuthConfig protects the management API.
type AuthConfig struct {
	JWTSecret string   `yaml:"jwtSecret"`
	JWTIssuer string   `yaml:"jwtIssuer"`
	Roles     []string `yaml:"roles"`
}

// AppConfig holds vjudge-service config.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	GRPC     GRPCConfig          `yaml:"grpc"`
	Logger   logger.Config       `yaml:"logger"`
	Database DatabaseConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Files    FilesConfig         `yaml:"files"`
	Kafka    KafkaConfig         `yaml:"kafka"`
	HTTP     HTTPClientConfig    `yaml:"http"`
	VJudge   VJudgeConfig        `yaml:"vjudge"`
	Auth     AuthConfig          `yaml:"auth"`
}

// loadAppConfig reads path after loading .env; ${VAR} references are expanded.
func loadAppConfig(path string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env failed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	return parseAppConfig(data)
}

func parseAppConfig(data []byte) (*AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}
	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) error {
	applyRedisDefaults(&cfg.Redis)
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.GRPC.Addr == "" {
		cfg.GRPC.Addr = defaultGRPCAddr
	}
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}

	switch strings.ToLower(cfg.Database.Driver) {
	case "", "mysql":
		cfg.Database.Driver = "mysql"
	case "postgres", "postgresql", "pgx":
		cfg.Database.Driver = "postgres"
	default:
		return fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}

	if cfg.Files.Bucket == "" {
		cfg.Files.Bucket = cfg.MinIO.Bucket
	}
	if cfg.Files.Prefix == "" {
		cfg.Files.Prefix = defaultFilePrefix
	}

	v := &cfg.VJudge
	if v.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("vjudge host is required: %w", err)
		}
		v.Host = host
	}
	if len(v.Providers) == 0 {
		v.Providers = []string{"codeforces"}
	}
	switch v.Queue {
	case "":
		v.Queue = "kafka"
	case "kafka", "memory":
	default:
		return fmt.Errorf("unsupported queue %q", v.Queue)
	}
	if v.Queue == "kafka" && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if v.WaitTimeout == 0 {
		v.WaitTimeout = defaultWaitTimeout
	}
	if v.StatusInterval == 0 {
		v.StatusInterval = defaultStatusInterval
	}
	if v.StatusTTL == 0 {
		v.StatusTTL = defaultStatusTTL
	}
	if v.RecordTTL == 0 {
		v.RecordTTL = defaultRecordTTL
	}
	if v.LockTTL == 0 {
		v.LockTTL = defaultLockTTL
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (d DatabaseConfig) pool() db.PoolConfig {
	return db.PoolConfig{
		MaxOpenConnections: d.MaxOpen,
		MaxIdleConnections: d.MaxIdle,
		ConnMaxLifetime:    d.ConnMaxLifetime,
		ConnMaxIdleTime:    d.ConnMaxIdleTime,
	}
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		ReadTimeout:  k.ReadTimeout,
		WriteTimeout: k.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (c *AppConfig) serviceConfig() service.Config {
	return service.Config{
		Host:           c.VJudge.Host,
		LoginInterval:  c.VJudge.LoginInterval,
		ResyncInterval: c.VJudge.ResyncInterval,
		SyncDelay:      c.VJudge.SyncDelay,
		WaitTimeout:    c.VJudge.WaitTimeout,
		StatusTimeout:  c.VJudge.StatusTimeout,
		HTTP: fetcher.Config{
			UserAgent:         c.HTTP.UserAgent,
			Timeout:           c.HTTP.Timeout,
			RequestsPerSecond: c.HTTP.RequestsPerSecond,
			Burst:             c.HTTP.Burst,
			MaxRetries:        c.HTTP.MaxRetries,
			RetryBaseDelay:    c.HTTP.RetryBaseDelay,
			Headers:           c.HTTP.Headers,
		},
	}
}
