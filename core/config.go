package core

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	ServiceName              string `koanf:"service_name" mapstructure:"service_name" yaml:"service_name"`
	ProcessingTimeoutMs      int64  `koanf:"processing_timeout_ms" mapstructure:"processing_timeout_ms" yaml:"processing_timeout_ms"`
	CrisisTimeoutMs          int64  `koanf:"crisis_timeout_ms" mapstructure:"crisis_timeout_ms" yaml:"crisis_timeout_ms"`
	MaxRetryAttempts         int    `koanf:"max_retry_attempts" mapstructure:"max_retry_attempts" yaml:"max_retry_attempts"`
	RetryDelayMs             int64  `koanf:"retry_delay_ms" mapstructure:"retry_delay_ms" yaml:"retry_delay_ms"`
	GracePeriodDays          int    `koanf:"grace_period_days" mapstructure:"grace_period_days" yaml:"grace_period_days"`
	CrisisGracePeriodDays    int    `koanf:"crisis_grace_period_days" mapstructure:"crisis_grace_period_days" yaml:"crisis_grace_period_days"`
	RealTimeUpdates          *bool  `koanf:"real_time_updates" mapstructure:"real_time_updates" yaml:"real_time_updates"`
	StateDeduplication       *bool  `koanf:"state_deduplication" mapstructure:"state_deduplication" yaml:"state_deduplication"`
	DedupTTLMs               int64  `koanf:"dedup_ttl_ms" mapstructure:"dedup_ttl_ms" yaml:"dedup_ttl_ms"`
	UpdateDrainIntervalMs    int64  `koanf:"update_drain_interval_ms" mapstructure:"update_drain_interval_ms" yaml:"update_drain_interval_ms"`
	GraceSweepIntervalMs     int64  `koanf:"grace_sweep_interval_ms" mapstructure:"grace_sweep_interval_ms" yaml:"grace_sweep_interval_ms"`
	RetryPumpIntervalMs      int64  `koanf:"retry_pump_interval_ms" mapstructure:"retry_pump_interval_ms" yaml:"retry_pump_interval_ms"`
	MetricsPublishIntervalMs int64  `koanf:"metrics_publish_interval_ms" mapstructure:"metrics_publish_interval_ms" yaml:"metrics_publish_interval_ms"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:              "billing",
		ProcessingTimeoutMs:      5000,
		CrisisTimeoutMs:          200,
		MaxRetryAttempts:         3,
		RetryDelayMs:             1000,
		GracePeriodDays:          7,
		CrisisGracePeriodDays:    30,
		RealTimeUpdates:          Bool(true),
		StateDeduplication:       Bool(true),
		DedupTTLMs:               int64(5 * time.Minute / time.Millisecond),
		UpdateDrainIntervalMs:    2000,
		GraceSweepIntervalMs:     int64(30 * time.Minute / time.Millisecond),
		RetryPumpIntervalMs:      500,
		MetricsPublishIntervalMs: int64(time.Minute / time.Millisecond),
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	positives := []struct {
		name  string
		value int64
	}{
		{"processing_timeout_ms", c.ProcessingTimeoutMs},
		{"crisis_timeout_ms", c.CrisisTimeoutMs},
		{"retry_delay_ms", c.RetryDelayMs},
		{"dedup_ttl_ms", c.DedupTTLMs},
		{"update_drain_interval_ms", c.UpdateDrainIntervalMs},
		{"grace_sweep_interval_ms", c.GraceSweepIntervalMs},
		{"retry_pump_interval_ms", c.RetryPumpIntervalMs},
		{"metrics_publish_interval_ms", c.MetricsPublishIntervalMs},
	}
	for _, field := range positives {
		if field.value <= 0 {
			return fmt.Errorf("core: %s must be positive, got %d", field.name, field.value)
		}
	}
	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("core: max_retry_attempts must be at least 1, got %d", c.MaxRetryAttempts)
	}
	if c.GracePeriodDays < 0 || c.CrisisGracePeriodDays < 0 {
		return fmt.Errorf("core: grace period days cannot be negative")
	}
	return nil
}

// RealTimeUpdatesEnabled treats an unset flag as enabled.
func (c Config) RealTimeUpdatesEnabled() bool {
	return c.RealTimeUpdates == nil || *c.RealTimeUpdates
}

func (c Config) DeduplicationEnabled() bool {
	return c.StateDeduplication == nil || *c.StateDeduplication
}

func (c Config) ProcessingTimeout() time.Duration {
	return millis(c.ProcessingTimeoutMs)
}

func (c Config) CrisisTimeout() time.Duration {
	return millis(c.CrisisTimeoutMs)
}

func (c Config) RetryDelay() time.Duration {
	return millis(c.RetryDelayMs)
}

func (c Config) DedupTTL() time.Duration {
	return millis(c.DedupTTLMs)
}

func (c Config) UpdateDrainInterval() time.Duration {
	return millis(c.UpdateDrainIntervalMs)
}

func (c Config) GraceSweepInterval() time.Duration {
	return millis(c.GraceSweepIntervalMs)
}

func (c Config) RetryPumpInterval() time.Duration {
	return millis(c.RetryPumpIntervalMs)
}

func (c Config) MetricsPublishInterval() time.Duration {
	return millis(c.MetricsPublishIntervalMs)
}

func (c Config) GracePeriod() time.Duration {
	return Days(c.GracePeriodDays)
}

func (c Config) CrisisGracePeriod() time.Duration {
	return Days(c.CrisisGracePeriodDays)
}

// Clone copies the flag pointers so decoders never write through to a
// shared default.
func (c Config) Clone() Config {
	out := c
	if c.RealTimeUpdates != nil {
		out.RealTimeUpdates = Bool(*c.RealTimeUpdates)
	}
	if c.StateDeduplication != nil {
		out.StateDeduplication = Bool(*c.StateDeduplication)
	}
	return out
}

func Bool(value bool) *bool {
	return &value
}

func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

func millis(value int64) time.Duration {
	return time.Duration(value) * time.Millisecond
}
