package db

import (
	"context"
	"time"

	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ProgramCollection defines the interface for maintenance program reads.
type ProgramCollection interface {
	FindProgramByID(ctx context.Context, id primitive.ObjectID) (*models.Program, error)
	FindActivePrograms(ctx context.Context) ([]models.Program, error)
}

// ScheduleCollection defines the interface for schedule definition operations.
type ScheduleCollection interface {
	InsertSchedule(ctx context.Context, schedule *models.Schedule) error
	FindScheduleByID(ctx context.Context, id primitive.ObjectID) (*models.Schedule, error)
	FindActiveSchedules(ctx context.Context, programID primitive.ObjectID) ([]models.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *models.Schedule) error
	SoftDeleteSchedule(ctx context.Context, id primitive.ObjectID) error
}

// VehicleCollection defines the interface for vehicle state operations.
type VehicleCollection interface {
	FindVehicleByID(ctx context.Context, id primitive.ObjectID) (*models.Vehicle, error)
	// FindVehiclesByProgram returns active vehicles assigned to the program.
	FindVehiclesByProgram(ctx context.Context, programID primitive.ObjectID) ([]models.Vehicle, error)
	// UpdateOdometer stores km only if it is larger than the current reading.
	UpdateOdometer(ctx context.Context, id primitive.ObjectID, km int64, at time.Time) (bool, error)
}

// ReminderCollection defines the interface for reminder store operations.
// The conditional writes refuse to touch final reminders.
type ReminderCollection interface {
	FindRemindersForPair(ctx context.Context, pair models.PairKey) ([]models.Reminder, error)
	FindRemindersByVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Reminder, error)
	FindReminderByID(ctx context.Context, id primitive.ObjectID) (*models.Reminder, error)
	// FindPendingPairs lists the pairs that still hold non-final reminders.
	FindPendingPairs(ctx context.Context) ([]models.PairKey, error)
	// InsertReminderIfAbsent creates the reminder unless one already exists
	// for its natural key. It reports whether a row was created.
	InsertReminderIfAbsent(ctx context.Context, reminder *models.Reminder) (bool, error)
	// UpdateReminderIfNonFinal sets the status of a non-final reminder.
	UpdateReminderIfNonFinal(ctx context.Context, reminder *models.Reminder) (bool, error)
	DeleteReminderIfNonFinal(ctx context.Context, id primitive.ObjectID) (bool, error)
	// SetWorkOrder links a work order to a reminder that has none yet.
	SetWorkOrder(ctx context.Context, id, workOrderID primitive.ObjectID) (bool, error)
	// FinalizeReminder sets a terminal status on a reminder that has none yet.
	FinalizeReminder(ctx context.Context, id primitive.ObjectID, status models.ReminderStatus, at time.Time) (bool, error)
}

// Transactor runs fn as one atomic unit. Collection calls made with the
// context passed to fn join the transaction.
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

var (
	_ ProgramCollection  = (*MongoProgramCollection)(nil)
	_ ScheduleCollection = (*MongoScheduleCollection)(nil)
	_ VehicleCollection  = (*MongoVehicleCollection)(nil)
	_ ReminderCollection = (*MongoReminderCollection)(nil)
	_ Transactor         = (*Store)(nil)
)
