package guard

import (
	"fmt"
	"time"
)

// Config defines safety-guard parameters loaded from configuration.
type Config struct {
	FailureThreshold   int     `json:"failure_threshold" yaml:"failure_threshold"`
	CooldownSeconds    int     `json:"cooldown_seconds" yaml:"cooldown_seconds"`
	CallTimeoutSeconds float64 `json:"call_timeout_seconds" yaml:"call_timeout_seconds"`
	StaleMaxAgeSeconds int     `json:"stale_max_age_seconds" yaml:"stale_max_age_seconds"`
}

// SetDefaults applies the documented defaults: 5 failures, 60s cooldown,
// 5s call timeout, 30s staleness.
func (c *Config) SetDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.CooldownSeconds == 0 {
		c.CooldownSeconds = 60
	}
	if c.CallTimeoutSeconds == 0 {
		c.CallTimeoutSeconds = 5
	}
	if c.StaleMaxAgeSeconds == 0 {
		c.StaleMaxAgeSeconds = 30
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.FailureThreshold < 0 || c.CooldownSeconds < 0 || c.CallTimeoutSeconds < 0 || c.StaleMaxAgeSeconds < 0 {
		return fmt.Errorf("guard settings must not be negative")
	}
	return nil
}

// CallTimeout returns the configured timeout as a duration.
func (c Config) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds * float64(time.Second))
}

// Cooldown returns the breaker cooldown as a duration.
func (c Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// StaleMaxAge returns the staleness threshold as a duration.
func (c Config) StaleMaxAge() time.Duration {
	return time.Duration(c.StaleMaxAgeSeconds) * time.Second
}
