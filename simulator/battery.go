package main

import (
	"sync"
	"time"
)

// Battery models a simple home storage pack with charge/discharge limits.
type Battery struct {
	CapacityKWh     float64
	SoC             float64 // percent [0,100]
	ChargeRateKW    float64
	DischargeRateKW float64
	mu              sync.Mutex
}

// ApplyPower updates the SoC for the requested power over dt. Positive
// power discharges, negative charges. It returns the energy moved in kWh
// after enforcing the rate and capacity limits.
func (b *Battery) ApplyPower(powerKW float64, dt time.Duration) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	hours := dt.Hours()
	if hours <= 0 || powerKW == 0 {
		return 0
	}

	var moved float64
	if powerKW > 0 {
		p := min(powerKW, b.DischargeRateKW)
		avail := b.SoC / 100 * b.CapacityKWh
		moved = min(p*hours, avail)
		b.SoC -= moved / b.CapacityKWh * 100
	} else {
		p := min(-powerKW, b.ChargeRateKW)
		room := (100 - b.SoC) / 100 * b.CapacityKWh
		moved = min(p*hours, room)
		b.SoC += moved / b.CapacityKWh * 100
	}

	if b.SoC < 0 {
		b.SoC = 0
	}
	if b.SoC > 100 {
		b.SoC = 100
	}
	return moved
}

// StateOfCharge reads the current SoC in percent.
func (b *Battery) StateOfCharge() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.SoC
}
