// Package reminders implements the external actions that make a reminder
// final: work-order linkage, completion and cancellation.
package reminders

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/db"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service applies reminder actions.
type Service struct {
	reminders db.ReminderCollection
	vehicles  db.VehicleCollection
	clock     func() time.Time
	log       log.FieldLogger
}

// NewService creates a reminder service. A nil logger selects the standard
// logger.
func NewService(reminders db.ReminderCollection, vehicles db.VehicleCollection, logger log.FieldLogger) *Service {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		reminders: reminders,
		vehicles:  vehicles,
		clock:     time.Now,
		log:       logger,
	}
}

// LinkWorkOrder attaches a work order to a reminder, making it final.
// Linking the same work order again is a no-op; a reminder linked to a
// different work order is rejected with ErrFinalReminder.
func (s *Service) LinkWorkOrder(ctx context.Context, id, workOrderID primitive.ObjectID) (*models.Reminder, error) {
	if workOrderID.IsZero() {
		return nil, models.Invalid("work_order_id", "is required")
	}
	reminder, err := s.reminders.FindReminderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if reminder.WorkOrderID == nil {
		linked, err := s.reminders.SetWorkOrder(ctx, id, workOrderID)
		if err != nil {
			return nil, fmt.Errorf("link work order: %w", err)
		}
		if linked {
			s.log.WithFields(log.Fields{
				"reminder_id":   id.Hex(),
				"work_order_id": workOrderID.Hex(),
			}).Info("work order linked")
		}
		// Reload either way: a concurrent link may have won.
		if reminder, err = s.reminders.FindReminderByID(ctx, id); err != nil {
			return nil, err
		}
	}
	if *reminder.WorkOrderID != workOrderID {
		return nil, fmt.Errorf("reminder %s is linked to work order %s: %w",
			id.Hex(), reminder.WorkOrderID.Hex(), models.ErrFinalReminder)
	}
	return reminder, nil
}

// Complete marks a reminder completed.
func (s *Service) Complete(ctx context.Context, id primitive.ObjectID) (*models.Reminder, error) {
	return s.finalize(ctx, id, models.StatusCompleted)
}

// Cancel marks a reminder cancelled.
func (s *Service) Cancel(ctx context.Context, id primitive.ObjectID) (*models.Reminder, error) {
	return s.finalize(ctx, id, models.StatusCancelled)
}

// finalize sets a terminal status. Repeating the same action is a no-op;
// switching between terminal statuses is rejected. Work-order-linked
// reminders can still be closed.
func (s *Service) finalize(ctx context.Context, id primitive.ObjectID, status models.ReminderStatus) (*models.Reminder, error) {
	reminder, err := s.reminders.FindReminderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reminder.Status.IsTerminal() {
		done, err := s.reminders.FinalizeReminder(ctx, id, status, s.clock())
		if err != nil {
			return nil, fmt.Errorf("finalize reminder: %w", err)
		}
		if done {
			s.log.WithFields(log.Fields{
				"reminder_id": id.Hex(),
				"status":      status,
			}).Info("reminder closed")
		}
		if reminder, err = s.reminders.FindReminderByID(ctx, id); err != nil {
			return nil, err
		}
	}
	if reminder.Status != status {
		return nil, fmt.Errorf("reminder %s is %s: %w", id.Hex(), reminder.Status, models.ErrFinalReminder)
	}
	return reminder, nil
}

// ListForVehicle returns every reminder of a vehicle ordered by due value.
func (s *Service) ListForVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Reminder, error) {
	if _, err := s.vehicles.FindVehicleByID(ctx, vehicleID); err != nil {
		return nil, err
	}
	reminders, err := s.reminders.FindRemindersByVehicle(ctx, vehicleID)
	if err != nil {
		return nil, err
	}
	if reminders == nil {
		reminders = []models.Reminder{}
	}
	return reminders, nil
}
