// Package reconcile keeps persisted reminders in line with the occurrences
// computed from schedules and vehicle state.
package reconcile

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/db"
	"github.com/ukydev/fleet-reminders/internal/models"
	"github.com/ukydev/fleet-reminders/internal/recurrence"
)

const defaultWorkers = 4

// Stores groups the collections the engine reads and writes.
type Stores struct {
	Programs  db.ProgramCollection
	Schedules db.ScheduleCollection
	Vehicles  db.VehicleCollection
	Reminders db.ReminderCollection
	Tx        db.Transactor
}

// Options tunes an Engine. Zero values select defaults.
type Options struct {
	// Workers bounds the number of pairs reconciled concurrently.
	Workers int
	// Location decides which calendar day "today" is.
	Location *time.Location
	Clock    func() time.Time
	Logger   log.FieldLogger
}

// Engine reconciles (vehicle, schedule) pairs.
type Engine struct {
	stores  Stores
	workers int
	loc     *time.Location
	clock   func() time.Time
	log     log.FieldLogger
}

// NewEngine creates an Engine.
func NewEngine(stores Stores, opts Options) *Engine {
	e := &Engine{
		stores:  stores,
		workers: opts.Workers,
		loc:     opts.Location,
		clock:   opts.Clock,
		log:     opts.Logger,
	}
	if e.workers <= 0 {
		e.workers = defaultWorkers
	}
	if e.loc == nil {
		e.loc = time.UTC
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.log == nil {
		e.log = log.StandardLogger()
	}
	return e
}

// PairStats counts the writes applied to one pair.
type PairStats struct {
	Generated int
	Removed   int
	Updated   int
}

func (s *PairStats) add(o PairStats) {
	s.Generated += o.Generated
	s.Removed += o.Removed
	s.Updated += o.Updated
}

// ReconcilePair brings the reminders of one pair in line with its schedule
// as of now. All reads and writes for the pair happen in one transaction, so
// a failure leaves the pair as it was.
func (e *Engine) ReconcilePair(ctx context.Context, pair models.PairKey, now time.Time) (PairStats, error) {
	schedule, err := e.stores.Schedules.FindScheduleByID(ctx, pair.ScheduleID)
	if err != nil {
		return PairStats{}, fmt.Errorf("load schedule: %w", err)
	}
	program, err := e.stores.Programs.FindProgramByID(ctx, schedule.ProgramID)
	if err != nil {
		return PairStats{}, fmt.Errorf("load program: %w", err)
	}
	vehicle, err := e.stores.Vehicles.FindVehicleByID(ctx, pair.VehicleID)
	if err != nil {
		return PairStats{}, fmt.Errorf("load vehicle: %w", err)
	}
	active := schedule.IsActive && program.IsActive && vehicle.AssignedTo(program.ID)

	var stats PairStats
	err = e.stores.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		// The driver may retry fn on transient errors.
		stats = PairStats{}

		existing, err := e.stores.Reminders.FindRemindersForPair(ctx, pair)
		if err != nil {
			return fmt.Errorf("load reminders: %w", err)
		}

		var desired []recurrence.Occurrence
		if active {
			state := recurrence.State{Today: now.In(e.loc), Odometer: vehicle.Odometer}
			desired, err = recurrence.Generate(pinAnchor(schedule.Rule, existing), state)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}
		}

		plan := Diff(pair, schedule, existing, desired)
		stats, err = e.apply(ctx, plan)
		return err
	})
	if err != nil {
		return PairStats{}, err
	}
	return stats, nil
}

// apply writes a plan in the order deletes, updates, creates. Conditional
// writes that match nothing lost a race with an external action and are
// not counted.
func (e *Engine) apply(ctx context.Context, plan Plan) (PairStats, error) {
	var stats PairStats
	for _, id := range plan.Delete {
		deleted, err := e.stores.Reminders.DeleteReminderIfNonFinal(ctx, id)
		if err != nil {
			return stats, fmt.Errorf("delete reminder %s: %w", id.Hex(), err)
		}
		if deleted {
			stats.Removed++
		}
	}
	for i := range plan.Update {
		r := &plan.Update[i]
		updated, err := e.stores.Reminders.UpdateReminderIfNonFinal(ctx, r)
		if err != nil {
			return stats, fmt.Errorf("update reminder %s: %w", r.ID.Hex(), err)
		}
		if updated {
			stats.Updated++
		}
	}
	for i := range plan.Create {
		r := &plan.Create[i]
		created, err := e.stores.Reminders.InsertReminderIfAbsent(ctx, r)
		if err != nil {
			return stats, fmt.Errorf("insert reminder %s: %w", r.Due, err)
		}
		if created {
			stats.Generated++
		}
	}
	return stats, nil
}
