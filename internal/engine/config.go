package engine

import (
	"fmt"
	"time"
)

// Config holds every effect-bearing engine parameter.
type Config struct {
	BlocksPerEpoch        int           `json:"blocksPerEpoch"`
	BlockDuration         time.Duration `json:"blockDuration"`
	EpochMatchingDelay    time.Duration `json:"epochMatchingDelay"`
	PriorityMin           int           `json:"priorityMin"`
	PriorityMax           int           `json:"priorityMax"`
	ReconciliationEnabled bool          `json:"reconciliationEnabled"`
	ReconcileInterval     time.Duration `json:"reconcileInterval"`
	// LedgerGrace is how long after intake the engine asks the ledger for a match.
	LedgerGrace    time.Duration `json:"ledgerGrace"`
	MatchJitterMin time.Duration `json:"matchJitterMin"`
	MatchJitterMax time.Duration `json:"matchJitterMax"`
}

// DefaultConfig returns the production cadence.
func DefaultConfig() Config {
	return Config{
		BlocksPerEpoch:     10,
		BlockDuration:      2 * time.Second,
		EpochMatchingDelay: 3 * time.Second,
		PriorityMin:        1,
		PriorityMax:        1000,
		ReconcileInterval:  10 * time.Second,
		LedgerGrace:        5 * time.Second,
		MatchJitterMin:     100 * time.Millisecond,
		MatchJitterMax:     500 * time.Millisecond,
	}
}

// EpochSpan is the delay between an epoch opening and its close.
func (c Config) EpochSpan() time.Duration {
	return time.Duration(c.BlocksPerEpoch)*c.BlockDuration + c.EpochMatchingDelay
}

// Validate checks the configuration surface.
func (c Config) Validate() error {
	if c.BlocksPerEpoch <= 0 {
		return fmt.Errorf("%w: blocksPerEpoch must be > 0", ErrInvalidConfig)
	}
	if c.BlockDuration <= 0 {
		return fmt.Errorf("%w: blockDuration must be > 0", ErrInvalidConfig)
	}
	if c.EpochMatchingDelay < 0 {
		return fmt.Errorf("%w: epochMatchingDelay must be >= 0", ErrInvalidConfig)
	}
	if c.PriorityMin > c.PriorityMax {
		return fmt.Errorf("%w: priority range min %d > max %d", ErrInvalidConfig, c.PriorityMin, c.PriorityMax)
	}
	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("%w: reconcileInterval must be > 0", ErrInvalidConfig)
	}
	if c.LedgerGrace < 0 {
		return fmt.Errorf("%w: ledgerGrace must be >= 0", ErrInvalidConfig)
	}
	if c.MatchJitterMin < 0 || c.MatchJitterMax < c.MatchJitterMin {
		return fmt.Errorf("%w: match jitter range [%s, %s] is invalid", ErrInvalidConfig, c.MatchJitterMin, c.MatchJitterMax)
	}
	return nil
}

// ConfigPatch is a partial update; nil fields keep their current value.
type ConfigPatch struct {
	BlocksPerEpoch        *int           `json:"blocksPerEpoch,omitempty"`
	BlockDuration         *time.Duration `json:"blockDuration,omitempty"`
	EpochMatchingDelay    *time.Duration `json:"epochMatchingDelay,omitempty"`
	PriorityMin           *int           `json:"priorityMin,omitempty"`
	PriorityMax           *int           `json:"priorityMax,omitempty"`
	ReconciliationEnabled *bool          `json:"reconciliationEnabled,omitempty"`
	ReconcileInterval     *time.Duration `json:"reconcileInterval,omitempty"`
	LedgerGrace           *time.Duration `json:"ledgerGrace,omitempty"`
	MatchJitterMin        *time.Duration `json:"matchJitterMin,omitempty"`
	MatchJitterMax        *time.Duration `json:"matchJitterMax,omitempty"`
}

// PatchFrom builds a patch that sets every field to cfg's value.
func PatchFrom(cfg Config) ConfigPatch {
	return ConfigPatch{
		BlocksPerEpoch:        &cfg.BlocksPerEpoch,
		BlockDuration:         &cfg.BlockDuration,
		EpochMatchingDelay:    &cfg.EpochMatchingDelay,
		PriorityMin:           &cfg.PriorityMin,
		PriorityMax:           &cfg.PriorityMax,
		ReconciliationEnabled: &cfg.ReconciliationEnabled,
		ReconcileInterval:     &cfg.ReconcileInterval,
		LedgerGrace:           &cfg.LedgerGrace,
		MatchJitterMin:        &cfg.MatchJitterMin,
		MatchJitterMax:        &cfg.MatchJitterMax,
	}
}

// Apply returns cfg with the patch applied. The result is not validated.
func (p ConfigPatch) Apply(cfg Config) Config {
	if p.BlocksPerEpoch != nil {
		cfg.BlocksPerEpoch = *p.BlocksPerEpoch
	}
	if p.BlockDuration != nil {
		cfg.BlockDuration = *p.BlockDuration
	}
	if p.EpochMatchingDelay != nil {
		cfg.EpochMatchingDelay = *p.EpochMatchingDelay
	}
	if p.PriorityMin != nil {
		cfg.PriorityMin = *p.PriorityMin
	}
	if p.PriorityMax != nil {
		cfg.PriorityMax = *p.PriorityMax
	}
	if p.ReconciliationEnabled != nil {
		cfg.ReconciliationEnabled = *p.ReconciliationEnabled
	}
	if p.ReconcileInterval != nil {
		cfg.ReconcileInterval = *p.ReconcileInterval
	}
	if p.LedgerGrace != nil {
		cfg.LedgerGrace = *p.LedgerGrace
	}
	if p.MatchJitterMin != nil {
		cfg.MatchJitterMin = *p.MatchJitterMin
	}
	if p.MatchJitterMax != nil {
		cfg.MatchJitterMax = *p.MatchJitterMax
	}
	return cfg
}
