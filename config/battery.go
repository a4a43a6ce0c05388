package config

import (
	"fmt"

	"github.com/exportmon/exportmon/core/model"
	"github.com/exportmon/exportmon/core/planner"
)

// BatteryConfig describes the installation: inverter power limits, pack
// capacity, state-of-charge bounds and the allowed time-of-day windows.
type BatteryConfig struct {
	DischargePowerKW   float64 `json:"discharge_power_kw"`
	ChargePowerKW      float64 `json:"charge_power_kw"`
	BatteryCapacityKWh float64 `json:"battery_capacity_kwh"`

	MinSoC            float64 `json:"min_soc"`
	ReserveSoC        float64 `json:"reserve_soc"`
	ObserveReserveSoC bool    `json:"observe_reserve_soc"`

	SafetyMarginKWh float64 `json:"safety_margin_kwh"`

	ExportWindowStart string `json:"export_window_start"`
	ExportWindowEnd   string `json:"export_window_end"`
	ChargeWindowStart string `json:"charge_window_start"`
	ChargeWindowEnd   string `json:"charge_window_end"`
}

// SetDefaults applies sane defaults for an unconfigured installation.
func (c *BatteryConfig) SetDefaults() {
	if c.ExportWindowStart == "" {
		c.ExportWindowStart = "00:00"
	}
	if c.ExportWindowEnd == "" {
		c.ExportWindowEnd = "23:59"
	}
	if c.ChargeWindowStart == "" {
		c.ChargeWindowStart = "22:00"
	}
	if c.ChargeWindowEnd == "" {
		c.ChargeWindowEnd = "06:00"
	}
}

// Validate checks mandatory fields and clock formats.
func (c BatteryConfig) Validate() error {
	if c.DischargePowerKW <= 0 {
		return fmt.Errorf("discharge_power_kw must be positive")
	}
	if c.ChargePowerKW <= 0 {
		return fmt.Errorf("charge_power_kw must be positive")
	}
	if c.BatteryCapacityKWh <= 0 {
		return fmt.Errorf("battery_capacity_kwh must be positive")
	}
	if c.MinSoC < 0 || c.MinSoC > 100 {
		return fmt.Errorf("min_soc must be in [0,100]")
	}
	if c.ReserveSoC < 0 || c.ReserveSoC > 100 {
		return fmt.Errorf("reserve_soc must be in [0,100]")
	}
	for _, clock := range []string{c.ExportWindowStart, c.ExportWindowEnd, c.ChargeWindowStart, c.ChargeWindowEnd} {
		if _, _, err := planner.ParseClock(clock); err != nil {
			return err
		}
	}
	return nil
}

// Settings converts the configuration into the per-tick snapshot handed to
// the core.
func (c BatteryConfig) Settings() model.Settings {
	return model.Settings{
		DischargePowerKW:   c.DischargePowerKW,
		ChargePowerKW:      c.ChargePowerKW,
		BatteryCapacityKWh: c.BatteryCapacityKWh,
		MinSoC:             c.MinSoC,
		ReserveSoC:         c.ReserveSoC,
		ObserveReserveSoC:  c.ObserveReserveSoC,
		SafetyMarginKWh:    c.SafetyMarginKWh,
		ExportWindowStart:  c.ExportWindowStart,
		ExportWindowEnd:    c.ExportWindowEnd,
		ChargeWindowStart:  c.ChargeWindowStart,
		ChargeWindowEnd:    c.ChargeWindowEnd,
	}
}
