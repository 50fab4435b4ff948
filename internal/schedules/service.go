// Package schedules manages the lifecycle of schedule definitions. It never
// touches reminders; the next sync picks up every change.
package schedules

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/db"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Service creates, edits and retires schedules.
type Service struct {
	programs  db.ProgramCollection
	schedules db.ScheduleCollection
	loc       *time.Location
	clock     func() time.Time
	log       log.FieldLogger
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the clock used to default anchors.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithLocation sets the location that decides the current calendar day.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) { s.loc = loc }
}

// WithLogger sets the logger.
func WithLogger(l log.FieldLogger) Option {
	return func(s *Service) { s.log = l }
}

// NewService creates a schedule service.
func NewService(programs db.ProgramCollection, schedules db.ScheduleCollection, opts ...Option) *Service {
	s := &Service{
		programs:  programs,
		schedules: schedules,
		loc:       time.UTC,
		clock:     time.Now,
		log:       log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// dayOf reduces t to its calendar day in the service location, as UTC
// midnight. Anchors are stored this way so they read back the same day.
func (s *Service) dayOf(t time.Time) time.Time {
	return models.DateOfDay(models.DayNumber(t.In(s.loc)))
}

func (s *Service) today() time.Time {
	return s.dayOf(s.clock())
}

// Create validates and stores a new active schedule. Schedules can only be
// created under an existing active program. A time rule without an anchor
// starts today; an explicit anchor is reduced to its calendar day.
func (s *Service) Create(ctx context.Context, schedule *models.Schedule) error {
	if err := schedule.Validate(); err != nil {
		return err
	}
	program, err := s.programs.FindProgramByID(ctx, schedule.ProgramID)
	if err != nil {
		return err
	}
	if !program.IsActive {
		return models.Invalid("program_id", "program %s is not active", program.ID.Hex())
	}

	if r, ok := schedule.Rule.(models.TimeRule); ok {
		anchor := s.today()
		if r.Anchor != nil {
			anchor = s.dayOf(*r.Anchor)
		}
		r.Anchor = &anchor
		schedule.Rule = r
	}
	schedule.ID = primitive.NilObjectID
	schedule.IsActive = true

	if err := s.schedules.InsertSchedule(ctx, schedule); err != nil {
		return err
	}
	s.log.WithFields(log.Fields{
		"schedule_id": schedule.ID.Hex(),
		"program_id":  schedule.ProgramID.Hex(),
		"type":        schedule.Rule.Kind(),
	}).Info("schedule created")
	return nil
}

// Update replaces the name, tasks and rule of an active schedule. The
// owning program cannot change. A time rule without an anchor keeps the
// current one.
func (s *Service) Update(ctx context.Context, schedule *models.Schedule) error {
	current, err := s.schedules.FindScheduleByID(ctx, schedule.ID)
	if err != nil {
		return err
	}
	if !current.IsActive {
		return models.Invalid("id", "schedule %s is deleted", current.ID.Hex())
	}
	schedule.ProgramID = current.ProgramID
	schedule.IsActive = true
	if err := schedule.Validate(); err != nil {
		return err
	}

	if r, ok := schedule.Rule.(models.TimeRule); ok {
		anchor := s.today()
		switch prev, ok := current.Rule.(models.TimeRule); {
		case r.Anchor != nil:
			anchor = s.dayOf(*r.Anchor)
		case ok && prev.Anchor != nil:
			anchor = *prev.Anchor
		}
		r.Anchor = &anchor
		schedule.Rule = r
	}

	if err := s.schedules.UpdateSchedule(ctx, schedule); err != nil {
		return err
	}
	schedule.CreatedAt = current.CreatedAt
	s.log.WithField("schedule_id", schedule.ID.Hex()).Info("schedule updated")
	return nil
}

// SoftDelete deactivates a schedule. Deleting twice is a no-op.
func (s *Service) SoftDelete(ctx context.Context, id primitive.ObjectID) error {
	current, err := s.schedules.FindScheduleByID(ctx, id)
	if err != nil {
		return err
	}
	if !current.IsActive {
		return nil
	}
	if err := s.schedules.SoftDeleteSchedule(ctx, id); err != nil {
		return err
	}
	s.log.WithField("schedule_id", id.Hex()).Info("schedule deleted")
	return nil
}

// Get returns a schedule by id.
func (s *Service) Get(ctx context.Context, id primitive.ObjectID) (*models.Schedule, error) {
	return s.schedules.FindScheduleByID(ctx, id)
}
