package guard

import "fmt"

// SensorKind selects the validation range for a raw reading.
type SensorKind int

const (
	KindSoC    SensorKind = iota // percent, [0, 100]
	KindEnergy                   // kWh, [0, 1000]
	KindPower                    // kW, [-50, 50]
)

func (k SensorKind) String() string {
	switch k {
	case KindSoC:
		return "soc"
	case KindEnergy:
		return "energy"
	case KindPower:
		return "power"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func (k SensorKind) bounds() (float64, float64) {
	switch k {
	case KindSoC:
		return 0, 100
	case KindPower:
		return -50, 50
	default:
		return 0, 1000
	}
}

// Validate checks a reading against the range for its kind. Out-of-range
// values are rejected, never clamped; the caller must treat the read as a
// failure for staleness and breaker purposes.
func Validate(value float64, kind SensorKind) (float64, error) {
	lo, hi := kind.bounds()
	if value < lo || value > hi {
		return 0, fmt.Errorf("%w: %s value %.2f outside [%.1f, %.1f]",
			ErrSensorOutOfRange, kind, value, lo, hi)
	}
	return value, nil
}
