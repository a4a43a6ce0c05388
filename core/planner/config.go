package planner

import "fmt"

// Mode selects the sort direction of the allocator. The two planning
// flavors use opposite orders and conflating them is a known defect class,
// so the mode is always explicit.
type Mode int

const (
	// ModeDirtiestFirst allocates into the highest-intensity periods first
	// (export while the grid is dirty, displacing fossil generation).
	ModeDirtiestFirst Mode = iota
	// ModeCleanestFirst allocates into the lowest-intensity periods first
	// (charge from, or export into, the cleanest grid).
	ModeCleanestFirst
)

func (m Mode) String() string {
	switch m {
	case ModeDirtiestFirst:
		return "dirtiest"
	case ModeCleanestFirst:
		return "cleanest"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ModeFromString parses a configured mode name.
func ModeFromString(s string) (Mode, error) {
	switch s {
	case "dirtiest", "":
		return ModeDirtiestFirst, nil
	case "cleanest":
		return ModeCleanestFirst, nil
	}
	return 0, fmt.Errorf("unknown planning mode %q", s)
}

// Config defines planning parameters loaded from configuration.
type Config struct {
	SlotMinutes int `json:"slot_minutes" yaml:"slot_minutes"`
	// DischargeMode is "dirtiest" or "cleanest". Charge planning always
	// targets the cleanest periods.
	DischargeMode string `json:"discharge_mode" yaml:"discharge_mode"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SlotMinutes == 0 {
		c.SlotMinutes = 30
	}
	if c.DischargeMode == "" {
		c.DischargeMode = "dirtiest"
	}
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	if c.SlotMinutes < 0 {
		return fmt.Errorf("slot_minutes must not be negative")
	}
	if _, err := ModeFromString(c.DischargeMode); err != nil {
		return err
	}
	return nil
}
