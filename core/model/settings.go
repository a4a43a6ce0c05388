package model

// Settings is the read-only configuration snapshot handed to the core on
// every tick. Persistence and editing of these values belongs to the host
// configuration layer.
type Settings struct {
	DischargePowerKW   float64
	ChargePowerKW      float64
	BatteryCapacityKWh float64

	// MinSoC is the floor below which discharge never engages.
	MinSoC float64
	// ReserveSoC stops an active discharge when breached, if observed.
	ReserveSoC        float64
	ObserveReserveSoC bool

	SafetyMarginKWh float64

	// Time-of-day bounds in "HH:MM", overnight wrap allowed.
	ExportWindowStart string
	ExportWindowEnd   string
	ChargeWindowStart string
	ChargeWindowEnd   string
}
