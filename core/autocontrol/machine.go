package autocontrol

import (
	"time"

	"github.com/exportmon/exportmon/core/logger"
	"github.com/exportmon/exportmon/core/model"
)

// State of the window machine.
type State int

const (
	StateIdle State = iota
	StateApproaching
	StateActive
	// StateCompleting is held for the tick that emits the stop action; the
	// next tick returns to Idle.
	StateCompleting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateApproaching:
		return "approaching"
	case StateActive:
		return "active"
	case StateCompleting:
		return "completing"
	}
	return "unknown"
}

// Action the coordinator must execute through the guarded actuator call.
type Action int

const (
	ActionNone Action = iota
	// ActionStage writes the power/duration/cutoff set-points.
	ActionStage
	// ActionStart engages the on/off toggle.
	ActionStart
	// ActionStop disengages the toggle immediately.
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionStage:
		return "stage"
	case ActionStart:
		return "start"
	case ActionStop:
		return "stop"
	}
	return "none"
}

// Input is the machine's view of one tick. All values come from the tick's
// telemetry snapshot and settings; the machine holds no other state.
type Input struct {
	Now  time.Time
	Plan model.Plan

	SoC                float64
	ExportTodayKWh     float64
	HeadroomKWh        float64
	BatteryCapacityKWh float64

	// Set-points to stage for the upcoming window.
	PowerKW   float64
	CutoffSoC float64

	// Reserve floor, enforced for discharge only.
	ReserveSoC     float64
	ObserveReserve bool

	// Blocked suppresses new Active entries (stale data or open breaker).
	// An already engaged actuator is never force-stopped by Blocked:
	// stopping blind is riskier than continuing on the last good command.
	Blocked bool
}

// Result is the machine's decision for the tick.
type Result struct {
	Action Action
	Window model.PlanWindow
	Reason string

	// Set-points accompanying ActionStage.
	PowerKW         float64
	DurationMinutes float64
	CutoffSoC       float64
}

type setpoints struct {
	power    float64
	duration float64
	cutoff   float64
	valid    bool
}

// Machine drives one actuator direction through its window lifecycle.
type Machine struct {
	direction model.Direction
	lead      time.Duration
	log       logger.Logger

	state           State
	tracker         *Tracker
	lastTriggeredID string
	lastGeneration  uint64
	staged          setpoints
	superseded      bool
	lastDay         string
}

// New creates a machine. lead <= 0 falls back to 5 minutes.
func New(direction model.Direction, lead time.Duration, log logger.Logger) *Machine {
	if lead <= 0 {
		lead = 5 * time.Minute
	}
	return &Machine{direction: direction, lead: lead, log: log}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Direction returns the actuator direction this machine drives.
func (m *Machine) Direction() model.Direction { return m.direction }

// ActiveTracker returns the in-progress window tracker, nil outside Active.
func (m *Machine) ActiveTracker() *Tracker { return m.tracker }

// CancelActive aborts an Active state after a failed start command. The
// triggered-window record is kept so the same window is not retried.
func (m *Machine) CancelActive(reason string) {
	if m.state != StateActive {
		return
	}
	if m.log != nil {
		m.log.Warnf("%s control cancelled: %s", m.direction, reason)
	}
	m.state = StateIdle
	m.tracker = nil
	m.staged = setpoints{}
	m.superseded = false
}

// Tick advances the machine one step and returns the action to execute.
func (m *Machine) Tick(in Input) Result {
	m.resetAtMidnight(in.Now)
	m.adoptGeneration(in)

	if m.state == StateCompleting {
		m.state = StateIdle
	}

	if m.state == StateActive && m.tracker != nil {
		if reason, stop := m.stopReason(in); stop {
			w := m.tracker.Window
			if m.log != nil {
				m.log.Infof("%s window %s stopping: %s", m.direction, m.tracker.WindowID, reason)
			}
			m.state = StateCompleting
			m.tracker = nil
			m.staged = setpoints{}
			return Result{Action: ActionStop, Window: w, Reason: reason}
		}
		return Result{Action: ActionNone}
	}

	w, ok := m.upcomingWindow(in)
	if !ok {
		m.state = StateIdle
		return Result{Action: ActionNone}
	}

	desired := setpoints{power: in.PowerKW, duration: w.DurationMinutes, cutoff: in.CutoffSoC, valid: true}

	if in.Now.Before(w.From) {
		m.state = StateApproaching
		return m.stageIfChanged(w, desired)
	}

	// Inside the window. Stage first if the set-points are not in place;
	// the start follows on the next tick.
	if m.staged != desired {
		m.state = StateApproaching
		return m.stageIfChanged(w, desired)
	}
	if in.Blocked {
		return Result{Action: ActionNone, Window: w, Reason: "entry_blocked"}
	}

	m.state = StateActive
	m.tracker = &Tracker{
		WindowID:         w.ID(),
		Window:           w,
		ExportAtStartKWh: in.ExportTodayKWh,
		SoCAtStart:       in.SoC,
		TriggeredAt:      in.Now,
	}
	m.lastTriggeredID = w.ID()
	if m.log != nil {
		m.log.Infof("%s window %s started (%.3f kWh target)", m.direction, w.ID(), w.EnergyKWh)
	}
	return Result{Action: ActionStart, Window: w, PowerKW: desired.power, DurationMinutes: desired.duration, CutoffSoC: desired.cutoff}
}

// resetAtMidnight clears the per-day trigger dedup record.
func (m *Machine) resetAtMidnight(now time.Time) {
	day := now.Format("2006-01-02")
	if m.lastDay != day {
		m.lastDay = day
		m.lastTriggeredID = ""
	}
}

// adoptGeneration reconciles an in-progress window with a regenerated
// plan: the tracker survives when the new plan still contains the same
// window identity, otherwise the window is superseded and stops on this
// tick via stopReason.
func (m *Machine) adoptGeneration(in Input) {
	if in.Plan.Generation == m.lastGeneration {
		return
	}
	m.lastGeneration = in.Plan.Generation
	m.staged = setpoints{}
	if m.state != StateActive || m.tracker == nil {
		return
	}
	for _, w := range in.Plan.Windows {
		if w.ID() == m.tracker.WindowID {
			m.tracker.Window = w
			return
		}
	}
	m.superseded = true
}

func (m *Machine) stopReason(in Input) (string, bool) {
	if m.superseded {
		m.superseded = false
		return "window_superseded", true
	}
	w := m.tracker.Window
	if !in.Now.Before(w.To) {
		return "window_end", true
	}
	delivered := m.tracker.Delivered(m.direction, in.ExportTodayKWh, in.SoC, in.BatteryCapacityKWh)
	if w.EnergyKWh > 0 && delivered >= w.EnergyKWh-1e-9 {
		return "energy_target", true
	}
	if m.direction == model.Discharge {
		if in.HeadroomKWh <= 0 {
			return "headroom_exhausted", true
		}
		if in.ObserveReserve && in.SoC <= in.ReserveSoC {
			return "reserve_soc", true
		}
	}
	if m.direction == model.Charge && in.SoC >= 100 {
		return "battery_full", true
	}
	return "", false
}

// upcomingWindow finds the earliest window whose lead time has been
// entered and that has not already been triggered.
func (m *Machine) upcomingWindow(in Input) (model.PlanWindow, bool) {
	var best model.PlanWindow
	found := false
	for _, w := range in.Plan.Windows {
		if !in.Now.Before(w.To) {
			continue
		}
		if in.Now.Before(w.From.Add(-m.lead)) {
			continue
		}
		if w.ID() == m.lastTriggeredID {
			continue
		}
		if !found || w.From.Before(best.From) {
			best = w
			found = true
		}
	}
	return best, found
}

// stageIfChanged writes set-points only when a desired value actually
// changed, to minimize write churn on the actuator.
func (m *Machine) stageIfChanged(w model.PlanWindow, desired setpoints) Result {
	if m.staged == desired {
		return Result{Action: ActionNone, Window: w}
	}
	m.staged = desired
	return Result{
		Action:          ActionStage,
		Window:          w,
		PowerKW:         desired.power,
		DurationMinutes: desired.duration,
		CutoffSoC:       desired.cutoff,
	}
}
