// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the messenger service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/Tyrowin/messenger/internal/conversation"
	"github.com/Tyrowin/messenger/internal/session"
	"github.com/Tyrowin/messenger/internal/storage"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds every runtime setting. Fields are populated from the
// environment and then sanitized.
type Config struct {
	Port           string `env:"SERVER_PORT,default=:8080"`
	Origins        string `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize int64  `env:"MAX_MESSAGE_SIZE,default=4096"`

	RateLimitBurst  int           `env:"RATE_LIMIT_BURST,default=5"`
	RateLimitRefill time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`

	SessionTTL     time.Duration `env:"SESSION_TTL,default=10m"`
	SessionBackend string        `env:"SESSION_BACKEND,default=memory" validate:"oneof=memory redis"`
	RedisAddr      string        `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB,default=0" validate:"gte=0"`

	StoreDriver     string        `env:"STORE_DRIVER,default=badger" validate:"oneof=badger sqlite"`
	BadgerPath      string        `env:"BADGER_PATH,default=data/badger"`
	SQLitePath      string        `env:"SQLITE_PATH,default=data/messenger.db"`
	StoreTimeout    time.Duration `env:"STORE_TIMEOUT,default=5s"`
	BreakerFailures int           `env:"STORE_BREAKER_FAILURES,default=5"`
	BreakerTimeout  time.Duration `env:"STORE_BREAKER_TIMEOUT,default=30s"`

	MessageBlockSize    int           `env:"MESSAGE_BLOCK_SIZE,default=1"`
	FlushPolicy         string        `env:"FLUSH_FAILURE_POLICY,default=requeue" validate:"oneof=drop requeue"`
	FlushMaxRetries     int           `env:"FLUSH_MAX_RETRIES,default=3" validate:"gte=0"`
	FlushRetryInterval  time.Duration `env:"FLUSH_RETRY_INTERVAL,default=200ms"`
	MaxBufferedMessages int           `env:"MAX_BUFFERED_MESSAGES,default=1000"`

	BroadcastScope string `env:"BROADCAST_SCOPE,default=global" validate:"oneof=global room"`

	RoastCommand     string        `env:"ROAST_COMMAND,default=python roast.py"`
	FactcheckCommand string        `env:"FACTCHECK_COMMAND,default=python factcheck.py"`
	ResponderTimeout time.Duration `env:"RESPONDER_TIMEOUT,default=60s"`

	LogLevel  string `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT,default=json" validate:"oneof=json text"`

	// AllowedOrigins is parsed from Origins by sanitize.
	AllowedOrigins []string
}

var validate = validator.New()

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return sanitizeConfig(Config{FlushMaxRetries: conversation.DefaultConfig().MaxRetries})
}

// LoadConfig reads envFile when it exists, then decodes the environment.
// An empty envFile skips the file.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func sanitizeConfig(cfg Config) Config {
	d := conversation.DefaultConfig()

	if cfg.Port == "" {
		cfg.Port = ":8080"
	}
	if cfg.Origins == "" && len(cfg.AllowedOrigins) == 0 {
		cfg.Origins = "http://localhost:8080"
	}
	if cfg.Origins != "" {
		cfg.AllowedOrigins = parseOrigins(cfg.Origins)
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 4096
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 5
	}
	if cfg.RateLimitRefill <= 0 {
		cfg.RateLimitRefill = time.Second
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = session.DefaultTTL
	}
	cfg.SessionBackend = defaultString(strings.ToLower(cfg.SessionBackend), "memory")
	cfg.RedisAddr = defaultString(cfg.RedisAddr, "localhost:6379")
	cfg.StoreDriver = defaultString(strings.ToLower(cfg.StoreDriver), storage.DriverBadger)
	cfg.BadgerPath = defaultString(cfg.BadgerPath, "data/badger")
	cfg.SQLitePath = defaultString(cfg.SQLitePath, "data/messenger.db")
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.MessageBlockSize <= 0 {
		cfg.MessageBlockSize = d.BlockSize
	}
	cfg.FlushPolicy = defaultString(strings.ToLower(cfg.FlushPolicy), string(d.Policy))
	if cfg.FlushRetryInterval <= 0 {
		cfg.FlushRetryInterval = d.RetryInterval
	}
	if cfg.MaxBufferedMessages <= 0 {
		cfg.MaxBufferedMessages = d.MaxBuffered
	}
	cfg.BroadcastScope = defaultString(strings.ToLower(cfg.BroadcastScope), string(ScopeGlobal))
	cfg.RoastCommand = defaultString(cfg.RoastCommand, "python roast.py")
	cfg.FactcheckCommand = defaultString(cfg.FactcheckCommand, "python factcheck.py")
	if cfg.ResponderTimeout <= 0 {
		cfg.ResponderTimeout = 60 * time.Second
	}
	cfg.LogLevel = defaultString(strings.ToLower(cfg.LogLevel), "info")
	cfg.LogFormat = defaultString(strings.ToLower(cfg.LogFormat), "json")
	return cfg
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// RateLimit returns the per-connection limiter settings.
func (c Config) RateLimit() RateLimitConfig {
	return RateLimitConfig{Burst: c.RateLimitBurst, RefillInterval: c.RateLimitRefill}
}

// Scope returns the broadcast scope.
func (c Config) Scope() Scope {
	return Scope(c.BroadcastScope)
}

// Batcher returns the conversation batcher settings.
func (c Config) Batcher() conversation.Config {
	return conversation.Config{
		BlockSize:     c.MessageBlockSize,
		Policy:        conversation.Policy(c.FlushPolicy),
		MaxRetries:    c.FlushMaxRetries,
		RetryInterval: c.FlushRetryInterval,
		MaxBuffered:   c.MaxBufferedMessages,
	}
}

// Storage returns the settings used to open the durable store.
func (c Config) Storage() storage.OpenConfig {
	return storage.OpenConfig{
		Driver:     c.StoreDriver,
		BadgerPath: c.BadgerPath,
		SQLitePath: c.SQLitePath,
		Guard: storage.GuardConfig{
			Timeout:        c.StoreTimeout,
			MaxFailures:    uint32(c.BreakerFailures),
			BreakerTimeout: c.BreakerTimeout,
			BreakerName:    c.StoreDriver,
		},
	}
}

// Redis returns the Redis session backend settings.
func (c Config) Redis() session.RedisConfig {
	return session.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}
