package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

// SyncRequest optionally narrows a sync run to one program and/or vehicle.
// Empty fields mean no filter.
type SyncRequest struct {
	ProgramID string `json:"program_id,omitempty"`
	VehicleID string `json:"vehicle_id,omitempty"`
}

type scope struct {
	program *primitive.ObjectID
	vehicle *primitive.ObjectID
}

func parseScopeID(field, hex string) (*primitive.ObjectID, error) {
	if hex == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return nil, models.Invalid(field, "%q is not a valid id", hex)
	}
	return &id, nil
}

func (r SyncRequest) scope() (scope, error) {
	program, err := parseScopeID("program_id", r.ProgramID)
	if err != nil {
		return scope{}, err
	}
	vehicle, err := parseScopeID("vehicle_id", r.VehicleID)
	if err != nil {
		return scope{}, err
	}
	return scope{program: program, vehicle: vehicle}, nil
}

// PairError describes one pair that could not be reconciled.
type PairError struct {
	VehicleID  string `json:"vehicle_id"`
	ScheduleID string `json:"schedule_id"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	RunID          string        `json:"run_id"`
	Success        bool          `json:"success"`
	GeneratedCount int           `json:"generated_count"`
	RemovedCount   int           `json:"removed_count"`
	UpdatedCount   int           `json:"updated_count"`
	PairCount      int           `json:"pair_count"`
	PairErrors     []PairError   `json:"per_pair_errors"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
}

type pairOutcome struct {
	stats PairStats
	err   error
	done  bool
}

// Sync reconciles every pair in scope. Pair failures are reported in the
// result and never abort the run. An error is returned only for a malformed
// request, a failure to list pairs, or cancellation of ctx; in the last case
// the result covers the pairs that were dispatched before it.
func (e *Engine) Sync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	sc, err := req.scope()
	if err != nil {
		return SyncResult{}, err
	}

	now := e.clock()
	result := SyncResult{
		RunID:      uuid.NewString(),
		StartedAt:  now,
		PairErrors: []PairError{},
	}
	logger := e.log.WithField("run_id", result.RunID)

	pairs, err := e.collectPairs(ctx, sc)
	if err != nil {
		return result, fmt.Errorf("collect pairs: %w", err)
	}
	result.PairCount = len(pairs)

	outcomes := make([]pairOutcome, len(pairs))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, pair := range pairs {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			stats, err := e.ReconcilePair(ctx, pair, now)
			outcomes[i] = pairOutcome{stats: stats, err: err, done: true}
			return nil
		})
	}
	_ = g.Wait()

	var total PairStats
	for i, o := range outcomes {
		if !o.done {
			continue
		}
		if o.err != nil {
			pe := PairError{
				VehicleID:  pairs[i].VehicleID.Hex(),
				ScheduleID: pairs[i].ScheduleID.Hex(),
				Kind:       models.ErrorKind(o.err),
				Message:    o.err.Error(),
			}
			result.PairErrors = append(result.PairErrors, pe)
			logger.WithFields(log.Fields{
				"vehicle_id":  pe.VehicleID,
				"schedule_id": pe.ScheduleID,
				"kind":        pe.Kind,
			}).WithError(o.err).Warn("pair reconciliation failed")
			continue
		}
		total.add(o.stats)
	}

	result.GeneratedCount = total.Generated
	result.RemovedCount = total.Removed
	result.UpdatedCount = total.Updated
	result.Duration = e.clock().Sub(now)
	result.DurationMS = result.Duration.Milliseconds()
	result.Success = len(result.PairErrors) == 0 && ctx.Err() == nil
	recordSync(&result)

	logger.WithFields(log.Fields{
		"pairs":     result.PairCount,
		"generated": result.GeneratedCount,
		"removed":   result.RemovedCount,
		"updated":   result.UpdatedCount,
		"errors":    len(result.PairErrors),
		"duration":  result.Duration.String(),
	}).Info("reminder sync finished")

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// collectPairs returns the active pairs in scope together with every pair in
// scope that still holds non-final reminders, so that reminders of
// deactivated schedules, programs and assignments get cleaned up.
func (e *Engine) collectPairs(ctx context.Context, sc scope) ([]models.PairKey, error) {
	seen := make(map[models.PairKey]bool)
	var pairs []models.PairKey
	add := func(p models.PairKey) {
		if sc.vehicle != nil && p.VehicleID != *sc.vehicle {
			return
		}
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}

	programs, err := e.stores.Programs.FindActivePrograms(ctx)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	for _, program := range programs {
		if sc.program != nil && program.ID != *sc.program {
			continue
		}
		schedules, err := e.stores.Schedules.FindActiveSchedules(ctx, program.ID)
		if err != nil {
			return nil, fmt.Errorf("list schedules of program %s: %w", program.ID.Hex(), err)
		}
		if len(schedules) == 0 {
			continue
		}
		vehicles, err := e.stores.Vehicles.FindVehiclesByProgram(ctx, program.ID)
		if err != nil {
			return nil, fmt.Errorf("list vehicles of program %s: %w", program.ID.Hex(), err)
		}
		for _, v := range vehicles {
			for _, s := range schedules {
				add(models.PairKey{VehicleID: v.ID, ScheduleID: s.ID})
			}
		}
	}

	pending, err := e.stores.Reminders.FindPendingPairs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending pairs: %w", err)
	}
	owner := make(map[primitive.ObjectID]primitive.ObjectID)
	for _, p := range pending {
		if sc.program != nil {
			programID, ok := owner[p.ScheduleID]
			if !ok {
				schedule, err := e.stores.Schedules.FindScheduleByID(ctx, p.ScheduleID)
				var nf *models.NotFoundError
				switch {
				case errors.As(err, &nf):
					continue
				case err != nil:
					return nil, fmt.Errorf("load schedule %s: %w", p.ScheduleID.Hex(), err)
				}
				programID = schedule.ProgramID
				owner[p.ScheduleID] = programID
			}
			if programID != *sc.program {
				continue
			}
		}
		add(p)
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs, nil
}
