package models

import (
	"time"
)

// OdometerReading is a mileage sample reported by a vehicle.
type OdometerReading struct {
	VehicleID  string    `json:"vehicle_id"`
	OdometerKm float64   `json:"odometer_km"`
	Timestamp  time.Time `json:"timestamp"`
}

// Validate checks the reading is usable.
func (r OdometerReading) Validate() error {
	if r.VehicleID == "" {
		return Invalid("vehicle_id", "is required")
	}
	if !(r.OdometerKm >= 0 && r.OdometerKm <= MaxDistanceKm) {
		return Invalid("odometer_km", "must be between 0 and %d", MaxDistanceKm)
	}
	return nil
}

// Kilometers truncates the reading to whole kilometers.
func (r OdometerReading) Kilometers() int64 {
	return int64(r.OdometerKm)
}
