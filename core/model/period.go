package model

import "time"

// Period is one slice of the grid carbon-intensity forecast. Periods are
// replaced wholesale on every successful forecast parse; a failed parse
// leaves the previous set intact.
type Period struct {
	From      time.Time
	To        time.Time
	Intensity float64
	// Index is the tier hint supplied by the forecast feed ("low",
	// "very high", ...). Empty when the feed carries no index.
	Index string
}

// Valid reports whether the period spans a positive amount of time.
func (p Period) Valid() bool { return p.To.After(p.From) }

// Duration returns the period length.
func (p Period) Duration() time.Duration { return p.To.Sub(p.From) }

// CurrentPeriod returns the period covering now, if any.
func CurrentPeriod(periods []Period, now time.Time) (Period, bool) {
	for _, p := range periods {
		if !p.From.After(now) && now.Before(p.To) {
			return p, true
		}
	}
	return Period{}, false
}
