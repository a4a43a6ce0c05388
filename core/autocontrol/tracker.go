package autocontrol

import (
	"time"

	"github.com/exportmon/exportmon/core/model"
)

// Tracker follows one in-progress window. It is created when the machine
// enters Active and destroyed when the window ends or is superseded by a
// plan regeneration. The baseline snapshots let the machine enforce the
// per-window energy cap independently of the whole-plan budget.
type Tracker struct {
	WindowID         string
	Window           model.PlanWindow
	ExportAtStartKWh float64
	SoCAtStart       float64
	TriggeredAt      time.Time
}

// Delivered returns the energy moved since the window was entered. For
// discharge it is the growth of the grid export counter; for charge it is
// the state-of-charge delta converted through the battery capacity.
func (t *Tracker) Delivered(direction model.Direction, exportTodayKWh, soc, capacityKWh float64) float64 {
	if direction == model.Charge {
		if capacityKWh <= 0 {
			return 0
		}
		return (soc - t.SoCAtStart) / 100 * capacityKWh
	}
	return exportTodayKWh - t.ExportAtStartKWh
}
