package planner

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Headroom computes today's export cap and remaining exportable energy.
// The cap is the larger of produced and forecast solar plus the safety
// margin; the headroom is whatever of the cap has not been fed in yet.
func Headroom(pvTodayKWh, forecastTodayKWh, gridFeedTodayKWh, safetyMarginKWh float64) (capKWh, headroomKWh float64) {
	capKWh = max(pvTodayKWh, forecastTodayKWh) + safetyMarginKWh
	headroomKWh = capKWh - gridFeedTodayKWh
	return capKWh, headroomKWh
}

// DurationMinutes converts an energy budget into a run time at fixed power.
// It is defined as 0 for non-positive power or energy; it never divides by
// zero or returns infinity.
func DurationMinutes(energyKWh, powerKW float64) float64 {
	if powerKW <= 0 || energyKWh <= 0 {
		return 0
	}
	return energyKWh / powerKW * 60
}

// TodayBudget bounds today's executable budget to both the live headroom
// and the day's solar energy (produced or forecast, whichever is larger).
func TodayBudget(headroomKWh, pvTodayKWh, forecastTodayKWh float64) float64 {
	return min(headroomKWh, max(pvTodayKWh, forecastTodayKWh))
}

// ChargeEnergyNeeded is the energy required to fill the battery from the
// given state of charge.
func ChargeEnergyNeeded(soc, capacityKWh float64) float64 {
	if soc >= 100 || capacityKWh <= 0 {
		return 0
	}
	return (100 - soc) / 100 * capacityKWh
}

// TodayHorizon bounds today's plan to [now, next local midnight).
func TodayHorizon(now time.Time) (time.Time, time.Time) {
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return now, midnight
}

// TomorrowHorizon bounds tomorrow's plan to the full local day.
func TomorrowHorizon(now time.Time) (time.Time, time.Time) {
	year, month, day := now.Date()
	start := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return start, start.AddDate(0, 0, 1)
}

// ParseClock parses a "HH:MM" time-of-day value.
func ParseClock(s string) (hour, minute int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("clock time %q out of range", s)
	}
	return hour, minute, nil
}

// NextChargeWindow resolves the next charge session as an absolute span.
// Charge windows are typically overnight (e.g. 00:00-07:00); when the wall
// clock is currently inside the window the session starts now, otherwise
// it starts at the next occurrence of the configured start time.
func NextChargeWindow(now time.Time, startHHMM, endHHMM string) (time.Time, time.Time, error) {
	sh, sm, err := ParseClock(startHHMM)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	eh, em, err := ParseClock(endHHMM)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	year, month, day := now.Date()
	startToday := time.Date(year, month, day, sh, sm, 0, 0, now.Location())
	endToday := time.Date(year, month, day, eh, em, 0, 0, now.Location())
	overnight := !startToday.Before(endToday)

	var start, end time.Time
	switch {
	case !overnight:
		switch {
		case now.Before(startToday):
			start, end = startToday, endToday
		case now.Before(endToday):
			start, end = now, endToday
		default:
			start, end = startToday.AddDate(0, 0, 1), endToday.AddDate(0, 0, 1)
		}
	default:
		endAfterStart := endToday.AddDate(0, 0, 1)
		switch {
		case now.Before(endToday):
			// Inside the tail of yesterday's session.
			start, end = now, endToday
		case now.Before(startToday):
			start, end = startToday, endAfterStart
		default:
			start, end = now, endAfterStart
		}
	}
	return start, end, nil
}
