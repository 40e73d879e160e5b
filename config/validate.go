package config

import (
	"fmt"
)

// ErrInvalid 用于参数验证错误。
type ErrInvalid string

func (e ErrInvalid) Error() string { return string(e) }

// Validate ensures required fields are present.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return ErrInvalid("env is required")
	}
	if err := cfg.EngineConfig().Validate(); err != nil {
		return ErrInvalid(fmt.Sprintf("engine: %v", err))
	}

	switch cfg.Ledger.Mode {
	case LedgerMemory, LedgerDisabled:
	case LedgerHTTP:
		if cfg.Ledger.BaseURL == "" {
			return ErrInvalid("ledger.baseURL is required in http mode")
		}
		if cfg.Ledger.APIKey == "" {
			return ErrInvalid("ledger.apiKey is required in http mode (or DARKPOOL_LEDGER_API_KEY)")
		}
		if cfg.Ledger.MaxRetries < 0 || cfg.Ledger.RetryDelayMs < 0 || cfg.Ledger.TimeoutMs < 0 {
			return ErrInvalid("ledger retry/timeout settings must be >= 0")
		}
		if cfg.Ledger.RateLimit < 0 || (cfg.Ledger.RateLimit > 0 && cfg.Ledger.Burst <= 0) {
			return ErrInvalid("ledger.burst must be > 0 when rateLimit is set")
		}
	default:
		return ErrInvalid(fmt.Sprintf("ledger.mode %q is not one of memory/http/disabled", cfg.Ledger.Mode))
	}
	if cfg.Ledger.BreakerThreshold < 0 || cfg.Ledger.BreakerTimeoutMs < 0 {
		return ErrInvalid("ledger breaker settings must be >= 0")
	}
	if cfg.Engine.ReconciliationEnabled && cfg.Ledger.Mode == LedgerDisabled {
		return ErrInvalid("engine.reconciliationEnabled requires a ledger")
	}

	if cfg.Server.Addr == "" {
		return ErrInvalid("server.addr is required")
	}
	if cfg.Kafka.Enabled {
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return ErrInvalid("kafka.brokers/topic is required when kafka is enabled")
		}
	}
	if cfg.Alert.ThrottleSeconds < 0 {
		return ErrInvalid("alert.throttleSeconds must be >= 0")
	}
	return nil
}
