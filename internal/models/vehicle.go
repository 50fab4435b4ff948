package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

const (
	VehicleActive   = "active"
	VehicleInactive = "inactive"
)

// Vehicle represents a fleet vehicle and the state reminders are computed from.
type Vehicle struct {
	ID                primitive.ObjectID   `bson:"_id,omitempty" json:"id"`
	Type              string               `bson:"type" json:"type"` // "ICE" or "EV"
	Make              string               `bson:"make" json:"make"`
	Model             string               `bson:"model" json:"model"`
	Year              int                  `bson:"year" json:"year"`
	Status            string               `bson:"status" json:"status"`     // "active" or "inactive"
	Odometer          int64                `bson:"odometer" json:"odometer"` // in kilometers
	OdometerUpdatedAt *time.Time           `bson:"odometer_updated_at,omitempty" json:"odometer_updated_at,omitempty"`
	ProgramIDs        []primitive.ObjectID `bson:"program_ids" json:"program_ids"`
	CreatedAt         time.Time            `bson:"created_at" json:"created_at"`
}

// IsActive reports whether the vehicle is in service.
func (v *Vehicle) IsActive() bool {
	return v.Status == VehicleActive
}

// AssignedTo reports whether the vehicle is in service and enrolled in the program.
func (v *Vehicle) AssignedTo(programID primitive.ObjectID) bool {
	if !v.IsActive() {
		return false
	}
	for _, id := range v.ProgramIDs {
		if id == programID {
			return true
		}
	}
	return false
}
