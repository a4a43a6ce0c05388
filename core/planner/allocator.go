package planner

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/exportmon/exportmon/core/model"
)

// Constraints restrict which forecast periods the allocator may use and
// how window starts are aligned.
type Constraints struct {
	// NotBefore / NotAfter clamp periods to an absolute horizon. Zero
	// values leave the corresponding side unbounded.
	NotBefore time.Time
	NotAfter  time.Time
	// WindowStart / WindowEnd restrict allocation to a time-of-day window
	// ("HH:MM"); overnight windows such as 23:00-06:00 are supported.
	// Empty strings mean no restriction.
	WindowStart string
	WindowEnd   string
	// SlotMinutes aligns clamped window starts down to a fixed grid so
	// window identity stays stable across ticks. 0 falls back to the
	// model default.
	SlotMinutes int
}

// Allocate builds a plan by greedily assigning energy to periods ranked by
// intensity. Discharge-during-dirty-grid uses ModeDirtiestFirst; charging
// and clean-export use ModeCleanestFirst. A zero budget, zero power or an
// empty period list yields an empty plan, never an error.
func Allocate(periods []model.Period, budgetKWh, powerKW float64, mode Mode, c Constraints, generation uint64) model.Plan {
	if budgetKWh <= 0 || powerKW <= 0 || len(periods) == 0 {
		return model.NewPlan(nil, generation)
	}

	slot := c.SlotMinutes
	if slot <= 0 {
		slot = model.SlotMinutes
	}

	candidates := clampPeriods(periods, c, slot)
	if len(candidates) == 0 {
		return model.NewPlan(nil, generation)
	}

	// Stable sort keeps chronological order on equal intensity, making the
	// result deterministic.
	if mode == ModeCleanestFirst {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Intensity < candidates[j].Intensity
		})
	} else {
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].Intensity > candidates[j].Intensity
		})
	}

	scale := NewTierScale(periods)
	remaining := budgetKWh
	var windows []model.PlanWindow
	for _, p := range candidates {
		if remaining <= 0 {
			break
		}
		capacity := p.Duration().Hours() * powerKW
		energy := min(capacity, remaining)
		if energy <= 0 {
			continue
		}
		windows = append(windows, model.PlanWindow{
			From:            p.From,
			To:              p.To,
			DurationMinutes: DurationMinutes(energy, powerKW),
			EnergyKWh:       energy,
			Intensity:       p.Intensity,
			Tier:            TierFor(p, scale),
		})
		remaining -= energy
	}
	return model.NewPlan(windows, generation)
}

// clampPeriods trims periods to the horizon, drops those outside the
// time-of-day window and aligns clamped starts to the slot grid.
func clampPeriods(periods []model.Period, c Constraints, slot int) []model.Period {
	out := make([]model.Period, 0, len(periods))
	for _, p := range periods {
		if !p.Valid() {
			continue
		}
		from, to := p.From, p.To
		if !c.NotBefore.IsZero() && from.Before(c.NotBefore) {
			// Snap the clamp down to the slot boundary (never before the
			// period itself) so the window start does not creep forward
			// every tick.
			aligned := model.AlignSlot(c.NotBefore, slot)
			if aligned.Before(p.From) {
				aligned = p.From
			}
			from = aligned
		}
		if !c.NotAfter.IsZero() && to.After(c.NotAfter) {
			to = c.NotAfter
		}
		if !from.Before(to) {
			continue
		}
		if !inDayWindow(from, to, c.WindowStart, c.WindowEnd) {
			continue
		}
		p.From, p.To = from, to
		out = append(out, p)
	}
	return out
}

// inDayWindow reports whether the period overlaps the configured
// time-of-day window, comparing local wall-clock minutes.
func inDayWindow(from, to time.Time, startHHMM, endHHMM string) bool {
	if startHHMM == "" || endHHMM == "" {
		return true
	}
	sh, sm, err := ParseClock(startHHMM)
	if err != nil {
		return true
	}
	eh, em, err := ParseClock(endHHMM)
	if err != nil {
		return true
	}
	ws, we := sh*60+sm, eh*60+em
	if ws == we {
		// Equal bounds mean the whole day, not a zero-length window.
		return true
	}
	ps := from.Local().Hour()*60 + from.Local().Minute()
	pe := to.Local().Hour()*60 + to.Local().Minute()
	if pe == 0 {
		// A period ending exactly at midnight reads as minute 0; it is the
		// end of the day, not the start.
		pe = 24 * 60
	}
	if ws <= we {
		return !(pe < ws || ps > we)
	}
	// Overnight window: outside only when the period sits wholly in the gap.
	// A period that itself crosses midnight (ps > pe) never does.
	if ps > pe {
		return true
	}
	return !(pe < ws && ps > we)
}

// Fingerprint hashes a period set so the coordinator can detect material
// forecast changes without comparing slices element-wise.
func Fingerprint(periods []model.Period) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, p := range periods {
		binary.BigEndian.PutUint64(buf[:], uint64(p.From.Unix()))
		_, _ = h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(p.To.Unix()))
		_, _ = h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(p.Intensity))
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
