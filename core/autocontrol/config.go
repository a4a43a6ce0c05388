package autocontrol

import (
	"fmt"
	"time"
)

// Config defines auto-control parameters loaded from configuration.
type Config struct {
	// LeadTimeMinutes is how far ahead of a window's start the machine
	// enters Approaching and pre-stages actuator set-points.
	LeadTimeMinutes int `json:"lead_time_minutes" yaml:"lead_time_minutes"`
	// AutoDischarge / AutoCharge enable the respective machines.
	AutoDischarge bool `json:"auto_discharge" yaml:"auto_discharge"`
	AutoCharge    bool `json:"auto_charge" yaml:"auto_charge"`
}

// SetDefaults applies the documented default lead time of 5 minutes.
func (c *Config) SetDefaults() {
	if c.LeadTimeMinutes == 0 {
		c.LeadTimeMinutes = 5
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.LeadTimeMinutes < 0 {
		return fmt.Errorf("lead_time_minutes must not be negative")
	}
	return nil
}

// LeadTime returns the lead time as a duration.
func (c Config) LeadTime() time.Duration {
	return time.Duration(c.LeadTimeMinutes) * time.Minute
}
