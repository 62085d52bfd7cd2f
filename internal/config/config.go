// Package config loads agentrunner's configuration from the environment,
// the same envconfig-driven shape the teacher uses for its trading
// parameters, generalized to the scheduler/guardrail/chain knobs this
// core needs. Environment always overrides structured defaults.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full process configuration.
type Config struct {
	Database   DatabaseConfig   `envconfig:"DATABASE"`
	ClickHouse ClickHouseConfig `envconfig:"CLICKHOUSE"`
	Redis      RedisConfig      `envconfig:"REDIS"`
	Logging    LoggingConfig    `envconfig:"LOGGING"`
	Health     HealthConfig     `envconfig:"HEALTH"`
	HTTP       HTTPConfig       `envconfig:"HTTP"`
	Chain      ChainConfig      `envconfig:"CHAIN"`
	Scheduler  SchedulerConfig  `envconfig:"SCHEDULER"`
	Shadow     ShadowConfig     `envconfig:"SHADOW"`
	Telegram   TelegramConfig   `envconfig:"TELEGRAM"`
	AI         AIConfig         `envconfig:"AI"`
}

// AIConfig configures the optional LLM-backed brain capability.
type AIConfig struct {
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" required:"false"`
}

// SchedulerConfig tunes the driver loop and singleflight/backoff behavior (§4.1, §5).
type SchedulerConfig struct {
	PollInterval           time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	MaxConcurrentCycles    int           `envconfig:"MAX_CONCURRENT_CYCLES" default:"32"`
	MaxBackoff             time.Duration `envconfig:"MAX_BACKOFF" default:"10m"`
	GracefulShutdown       time.Duration `envconfig:"GRACEFUL_SHUTDOWN" default:"30s"`
	CircuitBreakerMaxConsecutive int     `envconfig:"CIRCUIT_BREAKER_MAX_CONSECUTIVE" default:"5"`
	MemoryRecallLimit      int           `envconfig:"MEMORY_RECALL_LIMIT" default:"20"`
	MaxRunRecordsPerChain  int           `envconfig:"MAX_RUN_RECORDS_PER_CHAIN" default:"10000"`
	RetryMaxAttempts       int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryBaseDelay         time.Duration `envconfig:"RETRY_BASE_DELAY" default:"500ms"`
	RPCTimeout             time.Duration `envconfig:"RPC_TIMEOUT" default:"10s"`
	DBTimeout              time.Duration `envconfig:"DB_TIMEOUT" default:"5s"`
	LLMTimeout             time.Duration `envconfig:"LLM_TIMEOUT" default:"30s"`
}

// ShadowConfig gates the shadow-runner (§4.7).
type ShadowConfig struct {
	Enabled        bool `envconfig:"ENABLED" default:"false"`
	ExecuteShadowTx bool `envconfig:"EXECUTE_TX" default:"false"`
}

// ChainConfig describes the chain this runner drives against.
type ChainConfig struct {
	RPCURL             string `envconfig:"RPC_URL" required:"true"`
	ChainID            int64  `envconfig:"CHAIN_ID" default:"1"`
	HardValidatorAddr  string `envconfig:"HARD_VALIDATOR_ADDR" default:""`
	RegistryAddr       string `envconfig:"REGISTRY_ADDR" required:"true"`
	RouterAddr         string `envconfig:"ROUTER_ADDR" default:""`
	OperatorKey        string `envconfig:"OPERATOR_KEY" required:"false"`
}

// HTTPConfig configures the control-plane gin server.
type HTTPConfig struct {
	Host      string `envconfig:"HOST" default:"0.0.0.0"`
	Port      int    `envconfig:"PORT" default:"8090"`
	APIKey    string `envconfig:"API_KEY" required:"false"`
	MetricsKeyRequired bool `envconfig:"METRICS_KEY_REQUIRED" default:"false"`
}

type DatabaseConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Name     string `envconfig:"NAME" default:"agentrunner"`
	User     string `envconfig:"USER" default:"postgres"`
	Password string `envconfig:"PASSWORD" default:""`
	SSLMode  string `envconfig:"SSLMODE" default:"disable"`
	Port     int    `envconfig:"PORT" default:"5432"`
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// ClickHouseConfig is loaded from the environment but read by no component;
// the safety timeline (§4.5, getSafetyTimeline) is computed from the
// Postgres runs table.
type ClickHouseConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Database string `envconfig:"DATABASE" default:"agentrunner"`
	User     string `envconfig:"USER" default:"default"`
	Password string `envconfig:"PASSWORD" default:""`
	Port     int    `envconfig:"PORT" default:"9000"`
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
}

func (c *ClickHouseConfig) GetDSN() string {
	return fmt.Sprintf("clickhouse://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

type RedisConfig struct {
	Host     string `envconfig:"HOST" default:"localhost"`
	Password string `envconfig:"PASSWORD" default:""`
	Port     int    `envconfig:"PORT" default:"6379"`
	Enabled  bool   `envconfig:"ENABLED" default:"false"`
}

type LoggingConfig struct {
	Level string `envconfig:"LEVEL" default:"info"`
	File  string `envconfig:"FILE" default:""`
}

type HealthConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

type TelegramConfig struct {
	BotToken      string `envconfig:"BOT_TOKEN" required:"false"`
	AdminID       int64  `envconfig:"ADMIN_ID" default:"0"`
	AlertOnErrors bool   `envconfig:"ALERT_ON_ERRORS" default:"true"`
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("AGENTRUNNER", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("chain rpc url is required")
	}
	if c.Scheduler.MaxConcurrentCycles < 1 {
		return fmt.Errorf("max_concurrent_cycles must be at least 1")
	}
	if c.Scheduler.CircuitBreakerMaxConsecutive < 1 {
		return fmt.Errorf("circuit_breaker_max_consecutive must be at least 1")
	}
	if c.Scheduler.RetryMaxAttempts < 1 {
		return fmt.Errorf("retry_max_attempts must be at least 1")
	}
	return nil
}
