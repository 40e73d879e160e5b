package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"darkpool-go/infrastructure/logger"
	"darkpool-go/internal/engine"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env    string        `yaml:"env"`
	Engine EngineSection `yaml:"engine"`
	Ledger LedgerConfig  `yaml:"ledger"`
	Server ServerConfig  `yaml:"server"`
	Kafka  KafkaConfig   `yaml:"kafka"`
	Log    logger.Config `yaml:"log"`
	Alert  AlertConfig   `yaml:"alert"`
}

// EngineSection 撮合引擎参数，时间单位均为毫秒。
type EngineSection struct {
	BlocksPerEpoch        int    `yaml:"blocksPerEpoch"`
	BlockDurationMs       int    `yaml:"blockDurationMs"`
	EpochMatchingDelayMs  int    `yaml:"epochMatchingDelayMs"`
	PriorityMin           int    `yaml:"priorityMin"`
	PriorityMax           int    `yaml:"priorityMax"`
	ReconciliationEnabled bool   `yaml:"reconciliationEnabled"`
	ReconcileIntervalMs   int    `yaml:"reconcileIntervalMs"`
	LedgerGraceMs         int    `yaml:"ledgerGraceMs"`
	MatchJitterMinMs      int    `yaml:"matchJitterMinMs"`
	MatchJitterMaxMs      int    `yaml:"matchJitterMaxMs"`
	Seed                  uint64 `yaml:"seed"` // 0 表示按时间取种
}

// LedgerConfig 账本网关配置。mode 为 memory 时使用进程内账本。
type LedgerConfig struct {
	Mode         string  `yaml:"mode"` // memory, http, disabled
	BaseURL      string  `yaml:"baseURL"`
	APIKey       string  `yaml:"apiKey"`
	TimeoutMs    int     `yaml:"timeoutMs"`
	MaxRetries   int     `yaml:"maxRetries"`
	RetryDelayMs int     `yaml:"retryDelayMs"`
	RateLimit    float64 `yaml:"rateLimit"` // 每秒请求数，0 表示不限速
	Burst        int     `yaml:"burst"`

	BreakerThreshold int `yaml:"breakerThreshold"` // 连续失败次数，0 表示不启用熔断
	BreakerTimeoutMs int `yaml:"breakerTimeoutMs"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MetricsAddr string `yaml:"metricsAddr"`
	AuthToken   string `yaml:"authToken"`
	CORSOrigin  string `yaml:"corsOrigin"`
}

type KafkaConfig struct {
	Enabled          bool     `yaml:"enabled"`
	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	ConnectAttempts  int      `yaml:"connectAttempts"`
	ConnectBackoffMs int      `yaml:"connectBackoffMs"`
}

type AlertConfig struct {
	ThrottleSeconds int `yaml:"throttleSeconds"`
}

const (
	LedgerMemory   = "memory"
	LedgerHTTP     = "http"
	LedgerDisabled = "disabled"
)

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	cfg := defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides sensitive fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil && !errors.As(err, new(ErrInvalid)) {
		return cfg, err
	}
	if v := os.Getenv("DARKPOOL_LEDGER_API_KEY"); v != "" {
		cfg.Ledger.APIKey = v
	}
	if v := os.Getenv("DARKPOOL_SERVER_AUTH_TOKEN"); v != "" {
		cfg.Server.AuthToken = v
	}
	if v := os.Getenv("DARKPOOL_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	return cfg, Validate(cfg)
}

// defaults 未出现在文件中的字段沿用引擎默认值。
func defaults() AppConfig {
	d := engine.DefaultConfig()
	return AppConfig{
		Engine: EngineSection{
			BlocksPerEpoch:        d.BlocksPerEpoch,
			BlockDurationMs:       int(d.BlockDuration / time.Millisecond),
			EpochMatchingDelayMs:  int(d.EpochMatchingDelay / time.Millisecond),
			PriorityMin:           d.PriorityMin,
			PriorityMax:           d.PriorityMax,
			ReconciliationEnabled: d.ReconciliationEnabled,
			ReconcileIntervalMs:   int(d.ReconcileInterval / time.Millisecond),
			LedgerGraceMs:         int(d.LedgerGrace / time.Millisecond),
			MatchJitterMinMs:      int(d.MatchJitterMin / time.Millisecond),
			MatchJitterMaxMs:      int(d.MatchJitterMax / time.Millisecond),
		},
		Ledger: LedgerConfig{
			Mode:         LedgerMemory,
			TimeoutMs:    10000,
			MaxRetries:   3,
			RetryDelayMs: 200,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
		Kafka: KafkaConfig{
			ConnectAttempts:  5,
			ConnectBackoffMs: 1000,
		},
		Log:   logger.DefaultConfig(),
		Alert: AlertConfig{ThrottleSeconds: 60},
	}
}

// EngineConfig converts the engine section into engine.Config.
func (c AppConfig) EngineConfig() engine.Config {
	e := c.Engine
	return engine.Config{
		BlocksPerEpoch:        e.BlocksPerEpoch,
		BlockDuration:         ms(e.BlockDurationMs),
		EpochMatchingDelay:    ms(e.EpochMatchingDelayMs),
		PriorityMin:           e.PriorityMin,
		PriorityMax:           e.PriorityMax,
		ReconciliationEnabled: e.ReconciliationEnabled,
		ReconcileInterval:     ms(e.ReconcileIntervalMs),
		LedgerGrace:           ms(e.LedgerGraceMs),
		MatchJitterMin:        ms(e.MatchJitterMinMs),
		MatchJitterMax:        ms(e.MatchJitterMaxMs),
	}
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
