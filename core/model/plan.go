package model

import (
	"fmt"
	"time"
)

// IntensityTier classifies a carbon-intensity value.
type IntensityTier string

const (
	TierVeryLow  IntensityTier = "very_low"
	TierLow      IntensityTier = "low"
	TierModerate IntensityTier = "moderate"
	TierHigh     IntensityTier = "high"
)

// SlotMinutes is the grid windows are aligned to. Keeping window
// boundaries on the half-hour grid keeps trigger timing stable across
// ticks even when the forecast periods are irregular.
const SlotMinutes = 30

// PlanWindow is one allocated charge or discharge slot. The allocated
// duration never exceeds the period the window was cut from.
type PlanWindow struct {
	From            time.Time     `json:"from"`
	To              time.Time     `json:"to"`
	DurationMinutes float64       `json:"duration_minutes"`
	EnergyKWh       float64       `json:"energy_kwh"`
	Intensity       float64       `json:"ci_value"`
	Tier            IntensityTier `json:"ci_index"`
}

// ID returns the stable identifier used to de-duplicate triggers. It is
// derived from the slot-aligned start boundary so re-planning mid-window
// yields the same identifier.
func (w PlanWindow) ID() string {
	start := AlignSlot(w.From, SlotMinutes)
	return fmt.Sprintf("%s_%s", start.Format("2006-01-02"), start.Format("15:04"))
}

// Contains reports whether now falls inside [From, To).
func (w PlanWindow) Contains(now time.Time) bool {
	return !w.From.After(now) && now.Before(w.To)
}

// AlignSlot snaps t down to the nearest slot boundary.
func AlignSlot(t time.Time, slotMinutes int) time.Time {
	if slotMinutes <= 0 {
		return t
	}
	step := time.Duration(slotMinutes) * time.Minute
	return t.Truncate(step)
}

// Plan is an immutable energy-bounded allocation of windows. A new
// planning cycle always produces a whole new Plan, never an in-place edit.
type Plan struct {
	Windows        []PlanWindow `json:"windows"`
	TotalEnergyKWh float64      `json:"total_energy_kwh"`
	WindowCount    int          `json:"window_count"`
	// Generation identifies the planning cycle that produced the plan.
	Generation uint64 `json:"-"`
}

// NewPlan builds a Plan from windows, computing the totals.
func NewPlan(windows []PlanWindow, generation uint64) Plan {
	total := 0.0
	for _, w := range windows {
		total += w.EnergyKWh
	}
	return Plan{Windows: windows, TotalEnergyKWh: total, WindowCount: len(windows), Generation: generation}
}

// ActiveWindow returns the window covering now, if any.
func (p Plan) ActiveWindow(now time.Time) (PlanWindow, bool) {
	for _, w := range p.Windows {
		if w.Contains(now) {
			return w, true
		}
	}
	return PlanWindow{}, false
}

// NextWindow returns the earliest window starting after now, if any.
func (p Plan) NextWindow(now time.Time) (PlanWindow, bool) {
	var next PlanWindow
	found := false
	for _, w := range p.Windows {
		if w.From.After(now) && (!found || w.From.Before(next.From)) {
			next = w
			found = true
		}
	}
	return next, found
}

// Empty reports whether the plan holds no windows.
func (p Plan) Empty() bool { return len(p.Windows) == 0 }
