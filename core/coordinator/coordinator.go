// Package coordinator ties the planner, the safety guard and the two
// auto-control machines into one periodic tick. Ticks run sequentially on
// a single goroutine: telemetry refresh, headroom and plan recomputation,
// state-machine advance and guarded actuation never overlap.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/exportmon/exportmon/core/autocontrol"
	"github.com/exportmon/exportmon/core/battery"
	"github.com/exportmon/exportmon/core/events"
	"github.com/exportmon/exportmon/core/forecast"
	"github.com/exportmon/exportmon/core/guard"
	"github.com/exportmon/exportmon/core/logger"
	"github.com/exportmon/exportmon/core/metrics"
	"github.com/exportmon/exportmon/core/model"
	"github.com/exportmon/exportmon/core/planner"
	"github.com/exportmon/exportmon/internal/eventbus"
)

// Config defines the coordinator loop parameters.
type Config struct {
	TickSeconds int `json:"tick_seconds" yaml:"tick_seconds"`
}

// SetDefaults applies the documented 10s tick.
func (c *Config) SetDefaults() {
	if c.TickSeconds == 0 {
		c.TickSeconds = 10
	}
}

// Validate checks the parameters are usable.
func (c Config) Validate() error {
	if c.TickSeconds < 0 {
		return fmt.Errorf("tick_seconds must not be negative")
	}
	return nil
}

// Deps collects the coordinator's collaborators.
type Deps struct {
	Source    battery.TelemetrySource
	Discharge battery.Actuator
	Charge    battery.Actuator
	Settings  battery.SettingsProvider
	Guard     *guard.Guard
	Planner   planner.Config
	Control   autocontrol.Config
	Bus       eventbus.EventBus
	Sink      metrics.Sink
	Log       logger.Logger
}

// Coordinator owns all cross-tick state: the breaker and staleness records
// (via the guard), the active-window trackers (via the machines), the
// current period set and the current plans. Everything else is pure
// computation over the tick's telemetry snapshot.
type Coordinator struct {
	source    battery.TelemetrySource
	actuators map[model.Direction]battery.Actuator
	settings  battery.SettingsProvider
	guard     *guard.Guard
	discharge *autocontrol.Machine
	charge    *autocontrol.Machine

	plannerCfg    planner.Config
	dischargeMode planner.Mode
	autoDischarge bool
	autoCharge    bool

	bus      eventbus.EventBus
	sink     metrics.Sink
	log      logger.Logger
	interval time.Duration
	now      func() time.Time

	periods     []model.Period
	region      string
	fingerprint uint64
	headroomKey int64
	generation  uint64
	breakerOpen bool

	mu     sync.RWMutex
	plans  PlanSet
	health Health
}

// New wires a coordinator from its dependencies.
func New(deps Deps, cfg Config) (*Coordinator, error) {
	if deps.Source == nil || deps.Discharge == nil || deps.Charge == nil || deps.Guard == nil || deps.Settings == nil {
		return nil, fmt.Errorf("coordinator: nil dependency")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	deps.Planner.SetDefaults()
	deps.Control.SetDefaults()
	mode, err := planner.ModeFromString(deps.Planner.DischargeMode)
	if err != nil {
		return nil, err
	}
	if deps.Sink == nil {
		deps.Sink = metrics.NopSink{}
	}
	c := &Coordinator{
		source: deps.Source,
		actuators: map[model.Direction]battery.Actuator{
			model.Discharge: deps.Discharge,
			model.Charge:    deps.Charge,
		},
		settings:      deps.Settings,
		guard:         deps.Guard,
		discharge:     autocontrol.New(model.Discharge, deps.Control.LeadTime(), deps.Log),
		charge:        autocontrol.New(model.Charge, deps.Control.LeadTime(), deps.Log),
		plannerCfg:    deps.Planner,
		dischargeMode: mode,
		autoDischarge: deps.Control.AutoDischarge,
		autoCharge:    deps.Control.AutoCharge,
		bus:           deps.Bus,
		sink:          deps.Sink,
		log:           deps.Log,
		interval:      time.Duration(cfg.TickSeconds) * time.Second,
		now:           time.Now,
	}
	c.health = Health{Tier: TierDegraded, LastError: "none"}
	return c, nil
}

// SetClock overrides the time source, for tests.
func (c *Coordinator) SetClock(now func() time.Time) { c.now = now }

// Run drives the tick loop until the context is cancelled. A cancellation
// lets the in-flight tick finish its current guarded call, bounded by the
// call's own timeout, rather than aborting mid-write.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	c.Tick(ctx, c.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick(ctx, c.now())
		}
	}
}

// Health returns the current health snapshot.
func (c *Coordinator) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Plans returns the current plan set.
func (c *Coordinator) Plans() PlanSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.plans
}

// Tick executes one full control cycle.
func (c *Coordinator) Tick(ctx context.Context, now time.Time) {
	set := c.settings.Snapshot()
	stale := c.guard.Stale()

	tel, err := c.readTelemetry(ctx)
	if err != nil {
		// Keep the staleness bookkeeping current (no update recorded) and
		// skip actuator actions for this tick.
		c.finishTick(now, err, 0, stale)
		return
	}
	stale.RecordUpdate(now)

	_, headroom := planner.Headroom(tel.PVEnergyTodayKWh, tel.ForecastTodayKWh, tel.GridFeedTodayKWh, set.SafetyMarginKWh)

	var tickErr error
	payload := forecast.Payload{State: tel.ForecastState, Attributes: tel.ForecastAttrs}
	periods, ok := forecast.Parse(payload)
	if ok {
		c.periods = periods
		if region := forecast.Region(payload); region != "" {
			c.region = region
		}
	} else if len(c.periods) == 0 {
		// Non-fatal: plans stay empty, the machines idle.
		tickErr = guard.ErrNoPeriods
	}

	c.maybeReplan(now, headroom, tel, set)

	blocked := stale.IsStale(now) || c.guard.Breaker().Snapshot().Open
	plans := c.Plans()

	if c.autoDischarge {
		res := c.discharge.Tick(autocontrol.Input{
			Now:                now,
			Plan:               plans.DischargeToday,
			SoC:                tel.SoC,
			ExportTodayKWh:     tel.GridFeedTodayKWh,
			HeadroomKWh:        headroom,
			BatteryCapacityKWh: set.BatteryCapacityKWh,
			PowerKW:            set.DischargePowerKW,
			CutoffSoC:          set.MinSoC,
			ReserveSoC:         set.ReserveSoC,
			ObserveReserve:     set.ObserveReserveSoC,
			Blocked:            blocked,
		})
		if err := c.execute(ctx, now, c.discharge, res); err != nil && tickErr == nil {
			tickErr = err
		}
	}
	if c.autoCharge {
		res := c.charge.Tick(autocontrol.Input{
			Now:                now,
			Plan:               plans.ChargeSession,
			SoC:                tel.SoC,
			ExportTodayKWh:     tel.GridFeedTodayKWh,
			HeadroomKWh:        headroom,
			BatteryCapacityKWh: set.BatteryCapacityKWh,
			PowerKW:            set.ChargePowerKW,
			CutoffSoC:          100,
			Blocked:            blocked,
		})
		if err := c.execute(ctx, now, c.charge, res); err != nil && tickErr == nil {
			tickErr = err
		}
	}

	c.finishTick(now, tickErr, headroom, stale)
}

// readTelemetry reads one snapshot and validates every required reading.
// Any failure makes the whole read count as failed for staleness purposes.
func (c *Coordinator) readTelemetry(ctx context.Context) (model.Telemetry, error) {
	tel, err := c.source.Read(ctx)
	if err != nil {
		return model.Telemetry{}, fmt.Errorf("%w: %v", guard.ErrSensorUnavailable, err)
	}
	checks := []struct {
		name  string
		value float64
		kind  guard.SensorKind
	}{
		{"soc", tel.SoC, guard.KindSoC},
		{"pv_energy_today", tel.PVEnergyTodayKWh, guard.KindEnergy},
		{"grid_feed_today", tel.GridFeedTodayKWh, guard.KindEnergy},
		{"forecast_today", tel.ForecastTodayKWh, guard.KindEnergy},
		{"forecast_tomorrow", tel.ForecastTomorrowKWh, guard.KindEnergy},
	}
	for _, ck := range checks {
		if _, err := guard.Validate(ck.value, ck.kind); err != nil {
			return model.Telemetry{}, fmt.Errorf("%s: %w", ck.name, err)
		}
	}
	return tel, nil
}

// maybeReplan regenerates all plans when the forecast fingerprint or the
// rounded headroom changed, or when no generation exists yet.
func (c *Coordinator) maybeReplan(now time.Time, headroom float64, tel model.Telemetry, set model.Settings) {
	fp := planner.Fingerprint(c.periods)
	key := int64(math.Round(headroom * 10))
	if c.generation != 0 && fp == c.fingerprint && key == c.headroomKey {
		return
	}
	c.fingerprint = fp
	c.headroomKey = key
	c.generation++

	slot := c.plannerCfg.SlotMinutes

	todayFrom, todayTo := planner.TodayHorizon(now)
	todayBudget := planner.TodayBudget(headroom, tel.PVEnergyTodayKWh, tel.ForecastTodayKWh)
	dischargeToday := planner.Allocate(c.periods, todayBudget, set.DischargePowerKW, c.dischargeMode, planner.Constraints{
		NotBefore:   todayFrom,
		NotAfter:    todayTo,
		WindowStart: set.ExportWindowStart,
		WindowEnd:   set.ExportWindowEnd,
		SlotMinutes: slot,
	}, c.generation)

	tomFrom, tomTo := planner.TomorrowHorizon(now)
	dischargeTomorrow := planner.Allocate(c.periods, tel.ForecastTomorrowKWh, set.DischargePowerKW, c.dischargeMode, planner.Constraints{
		NotBefore:   tomFrom,
		NotAfter:    tomTo,
		WindowStart: set.ExportWindowStart,
		WindowEnd:   set.ExportWindowEnd,
		SlotMinutes: slot,
	}, c.generation)

	var chargeSession model.Plan
	need := planner.ChargeEnergyNeeded(tel.SoC, set.BatteryCapacityKWh)
	if start, end, err := planner.NextChargeWindow(now, set.ChargeWindowStart, set.ChargeWindowEnd); err == nil {
		chargeSession = planner.Allocate(c.periods, need, set.ChargePowerKW, planner.ModeCleanestFirst, planner.Constraints{
			NotBefore:   start,
			NotAfter:    end,
			SlotMinutes: slot,
		}, c.generation)
	} else {
		if c.log != nil {
			c.log.Warnf("invalid charge window: %v", err)
		}
		chargeSession = model.NewPlan(nil, c.generation)
	}

	chargeTomorrow := planner.Allocate(c.periods, set.BatteryCapacityKWh, set.ChargePowerKW, planner.ModeCleanestFirst, planner.Constraints{
		NotBefore:   tomFrom,
		NotAfter:    tomTo,
		WindowStart: set.ChargeWindowStart,
		WindowEnd:   set.ChargeWindowEnd,
		SlotMinutes: slot,
	}, c.generation)

	c.mu.Lock()
	c.plans = PlanSet{
		DischargeToday:    dischargeToday,
		DischargeTomorrow: dischargeTomorrow,
		ChargeSession:     chargeSession,
		ChargeTomorrow:    chargeTomorrow,
	}
	c.mu.Unlock()

	c.recordPlan(now, model.Discharge, "today", dischargeToday)
	c.recordPlan(now, model.Discharge, "tomorrow", dischargeTomorrow)
	c.recordPlan(now, model.Charge, "today", chargeSession)
	c.recordPlan(now, model.Charge, "tomorrow", chargeTomorrow)
}

func (c *Coordinator) recordPlan(now time.Time, dir model.Direction, day string, p model.Plan) {
	_ = c.sink.RecordPlan(metrics.PlanSample{
		At:             now,
		Direction:      dir,
		Day:            day,
		Generation:     p.Generation,
		TotalEnergyKWh: p.TotalEnergyKWh,
		WindowCount:    p.WindowCount,
	})
	if c.bus != nil {
		c.bus.Publish(events.PlanEvent{
			Direction:      dir,
			Day:            day,
			Generation:     p.Generation,
			TotalEnergyKWh: p.TotalEnergyKWh,
			Windows:        p.WindowCount,
			At:             now,
		})
	}
}

// execute carries out a machine decision through the guarded actuator.
func (c *Coordinator) execute(ctx context.Context, now time.Time, m *autocontrol.Machine, res autocontrol.Result) error {
	if res.Action == autocontrol.ActionNone {
		return nil
	}
	dir := m.Direction()
	act := c.actuators[dir]

	var err error
	switch res.Action {
	case autocontrol.ActionStage:
		err = c.stage(ctx, now, dir, act, res)
	case autocontrol.ActionStart:
		err = c.toggle(ctx, now, dir, act, true)
		if err != nil {
			m.CancelActive(err.Error())
		}
	case autocontrol.ActionStop:
		err = c.toggle(ctx, now, dir, act, false)
	}

	if c.bus != nil {
		ev := events.WindowEvent{
			Direction: dir,
			Action:    res.Action.String(),
			WindowID:  res.Window.ID(),
			EnergyKWh: res.Window.EnergyKWh,
			Reason:    res.Reason,
			At:        now,
		}
		if err != nil {
			ev.Reason = guard.Code(err)
		}
		c.bus.Publish(ev)
	}
	return err
}

// stage writes the three set-points for the upcoming window. The machine
// only emits a stage when a value changed, so every write here is real.
func (c *Coordinator) stage(ctx context.Context, now time.Time, dir model.Direction, act battery.Actuator, res autocontrol.Result) error {
	type write struct {
		op    string
		apply func(context.Context) error
		check func(model.ActuatorStatus) error
	}
	writes := []write{
		{
			op:    "set_power",
			apply: func(ctx context.Context) error { return act.SetPowerKW(ctx, res.PowerKW) },
			check: func(st model.ActuatorStatus) error { return guard.VerifyValue("set_power", res.PowerKW, st.PowerKW) },
		},
		{
			op:    "set_duration",
			apply: func(ctx context.Context) error { return act.SetDurationMinutes(ctx, res.DurationMinutes) },
			check: func(st model.ActuatorStatus) error {
				return guard.VerifyValue("set_duration", res.DurationMinutes, st.DurationMinutes)
			},
		},
		{
			op:    "set_cutoff",
			apply: func(ctx context.Context) error { return act.SetCutoffSoC(ctx, res.CutoffSoC) },
			check: func(st model.ActuatorStatus) error { return guard.VerifyValue("set_cutoff", res.CutoffSoC, st.CutoffSoC) },
		},
	}
	for _, w := range writes {
		if err := c.guardedCall(ctx, now, dir, w.op, w.apply, act, w.check); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) toggle(ctx context.Context, now time.Time, dir model.Direction, act battery.Actuator, on bool) error {
	op := "stop"
	if on {
		op = "start"
	}
	return c.guardedCall(ctx, now, dir, op,
		func(ctx context.Context) error { return act.SetEnabled(ctx, on) },
		act,
		func(st model.ActuatorStatus) error { return guard.VerifyBool(op, on, st.Enabled) },
	)
}

func (c *Coordinator) guardedCall(ctx context.Context, now time.Time, dir model.Direction, op string, apply func(context.Context) error, act battery.Actuator, check func(model.ActuatorStatus) error) error {
	start := time.Now()
	err := c.guard.Call(ctx, fmt.Sprintf("%s/%s", dir, op), apply, func(vctx context.Context) error {
		st, rerr := act.Status(vctx)
		if rerr != nil {
			return rerr
		}
		return check(st)
	})
	_ = c.sink.RecordActuation(metrics.ActuationSample{
		At:        now,
		Direction: dir,
		Op:        op,
		OK:        err == nil,
		ErrorCode: guard.Code(err),
		Latency:   time.Since(start),
	})
	return err
}

// finishTick publishes the tick outcome and refreshes the health surface.
func (c *Coordinator) finishTick(now time.Time, tickErr error, headroom float64, stale *guard.StaleDetector) {
	age, haveAge := stale.Age(now)
	breaker := c.guard.Breaker().Snapshot()

	tier := TierOK
	switch {
	case breaker.Open:
		tier = TierCritical
	case tickErr != nil || stale.IsStale(now):
		tier = TierDegraded
	}

	h := Health{
		Tier:             tier,
		LastError:        guard.Code(tickErr),
		Breaker:          breaker,
		LastTick:         now,
		CurrentIntensity: -1,
		Region:           c.region,
	}
	if haveAge {
		h.DataAgeSeconds = age.Seconds()
	} else {
		h.DataAgeSeconds = -1
	}
	if p, ok := model.CurrentPeriod(c.periods, now); ok {
		h.CurrentIntensity = p.Intensity
		h.CurrentTier = planner.TierFor(p, planner.NewTierScale(c.periods))
	}

	c.mu.Lock()
	c.health = h
	c.mu.Unlock()

	_ = c.sink.RecordTick(metrics.TickSample{
		At:             now,
		OK:             tickErr == nil,
		ErrorCode:      guard.Code(tickErr),
		HeadroomKWh:    headroom,
		DataAgeSeconds: h.DataAgeSeconds,
		BreakerOpen:    breaker.Open,
	})
	if c.bus != nil {
		c.bus.Publish(events.TickEvent{At: now, ErrorCode: guard.Code(tickErr), HeadroomKWh: headroom})
		if breaker.Open != c.breakerOpen {
			c.bus.Publish(events.BreakerEvent{Open: breaker.Open, Failures: breaker.Failures, At: now})
		}
	}
	c.breakerOpen = breaker.Open
	if tickErr != nil && c.log != nil {
		c.log.Warnf("tick finished with error: %v", tickErr)
	}
}
