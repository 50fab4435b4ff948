// Package dbtest provides an in-memory implementation of the db collection
// interfaces for tests.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fleet-reminders/internal/db"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	_ db.ProgramCollection  = (*Store)(nil)
	_ db.ScheduleCollection = (*Store)(nil)
	_ db.VehicleCollection  = (*Store)(nil)
	_ db.ReminderCollection = (*Store)(nil)
	_ db.Transactor         = (*Store)(nil)
)

// Store is an in-memory stand-in for db.Store. A transaction holds a lock on
// every pair it touches until it ends, so transactions on different pairs
// overlap. Reminder writes made inside a failed transaction are undone.
type Store struct {
	mu        sync.Mutex
	pairLocks map[models.PairKey]*sync.Mutex

	programs  map[primitive.ObjectID]models.Program
	schedules map[primitive.ObjectID]models.Schedule
	vehicles  map[primitive.ObjectID]models.Vehicle
	reminders map[primitive.ObjectID]models.Reminder

	// FailInsert, when set, is consulted before every reminder insert.
	FailInsert func(r *models.Reminder) error
	// FailPair, when set, is consulted when a pair's reminders are loaded.
	FailPair func(pair models.PairKey) error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		programs:  make(map[primitive.ObjectID]models.Program),
		schedules: make(map[primitive.ObjectID]models.Schedule),
		vehicles:  make(map[primitive.ObjectID]models.Vehicle),
		reminders: make(map[primitive.ObjectID]models.Reminder),
		pairLocks: make(map[models.PairKey]*sync.Mutex),
	}
}

type txKey struct{}

type undo struct {
	id   primitive.ObjectID
	prev models.Reminder
	had  bool
}

type tx struct {
	pairs []models.PairKey
	log   []undo
}

func txFrom(ctx context.Context) *tx {
	t, _ := ctx.Value(txKey{}).(*tx)
	return t
}

// enterPair locks pair for the rest of the transaction in ctx, if any.
func (s *Store) enterPair(ctx context.Context, pair models.PairKey) {
	t := txFrom(ctx)
	if t == nil {
		return
	}
	for _, held := range t.pairs {
		if held == pair {
			return
		}
	}
	s.mu.Lock()
	l, ok := s.pairLocks[pair]
	if !ok {
		l = &sync.Mutex{}
		s.pairLocks[pair] = l
	}
	s.mu.Unlock()
	l.Lock()
	t.pairs = append(t.pairs, pair)
}

// record saves the current state of reminder id for rollback. s.mu must be
// held.
func (s *Store) record(ctx context.Context, id primitive.ObjectID) {
	if t := txFrom(ctx); t != nil {
		prev, had := s.reminders[id]
		t.log = append(t.log, undo{id: id, prev: prev, had: had})
	}
}

// PutProgram stores or replaces a program, assigning an ID if missing.
func (s *Store) PutProgram(p models.Program) models.Program {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID.IsZero() {
		p.ID = primitive.NewObjectID()
	}
	s.programs[p.ID] = p
	return p
}

// PutSchedule stores or replaces a schedule, assigning an ID if missing.
func (s *Store) PutSchedule(sc models.Schedule) models.Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	s.schedules[sc.ID] = sc
	return sc
}

// PutVehicle stores or replaces a vehicle, assigning an ID if missing.
func (s *Store) PutVehicle(v models.Vehicle) models.Vehicle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID.IsZero() {
		v.ID = primitive.NewObjectID()
	}
	s.vehicles[v.ID] = v
	return v
}

// PutReminder stores or replaces a reminder without any checks.
func (s *Store) PutReminder(r models.Reminder) models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	s.reminders[r.ID] = r
	return r
}

// Reminders returns every stored reminder ordered by pair and due value.
func (s *Store) Reminders() []models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r)
	}
	sortReminders(out)
	return out
}

func sortReminders(rs []models.Reminder) {
	sort.Slice(rs, func(i, j int) bool {
		a, b := rs[i], rs[j]
		if a.VehicleID != b.VehicleID {
			return a.VehicleID.Hex() < b.VehicleID.Hex()
		}
		if a.ScheduleID != b.ScheduleID {
			return a.ScheduleID.Hex() < b.ScheduleID.Hex()
		}
		return a.Due.Value() < b.Due.Value()
	})
}

// WithTransaction implements db.Transactor.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	t := &tx{}
	defer func() {
		s.mu.Lock()
		locks := make([]*sync.Mutex, 0, len(t.pairs))
		for _, pair := range t.pairs {
			locks = append(locks, s.pairLocks[pair])
		}
		s.mu.Unlock()
		for _, l := range locks {
			l.Unlock()
		}
	}()

	err := fn(context.WithValue(ctx, txKey{}, t))
	if err != nil {
		s.mu.Lock()
		for i := len(t.log) - 1; i >= 0; i-- {
			u := t.log[i]
			if u.had {
				s.reminders[u.id] = u.prev
			} else {
				delete(s.reminders, u.id)
			}
		}
		s.mu.Unlock()
	}
	return err
}

// InsertProgram stores a new program, assigning an ID if missing.
func (s *Store) InsertProgram(_ context.Context, p *models.Program) error {
	p.CreatedAt = time.Now()
	*p = s.PutProgram(*p)
	return nil
}

// InsertVehicle stores a new vehicle, assigning an ID if missing.
func (s *Store) InsertVehicle(_ context.Context, v *models.Vehicle) error {
	v.CreatedAt = time.Now()
	*v = s.PutVehicle(*v)
	return nil
}

// FindProgramByID implements db.ProgramCollection.
func (s *Store) FindProgramByID(_ context.Context, id primitive.ObjectID) (*models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[id]
	if !ok {
		return nil, models.NotFound("program", id.Hex())
	}
	return &p, nil
}

// FindActivePrograms implements db.ProgramCollection.
func (s *Store) FindActivePrograms(_ context.Context) ([]models.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Program
	for _, p := range s.programs {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

// InsertSchedule implements db.ScheduleCollection.
func (s *Store) InsertSchedule(_ context.Context, sc *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.ID.IsZero() {
		sc.ID = primitive.NewObjectID()
	}
	sc.CreatedAt = time.Now()
	sc.UpdatedAt = sc.CreatedAt
	s.schedules[sc.ID] = *sc
	return nil
}

// FindScheduleByID implements db.ScheduleCollection.
func (s *Store) FindScheduleByID(_ context.Context, id primitive.ObjectID) (*models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[id]
	if !ok {
		return nil, models.NotFound("schedule", id.Hex())
	}
	return &sc, nil
}

// FindActiveSchedules implements db.ScheduleCollection.
func (s *Store) FindActiveSchedules(_ context.Context, programID primitive.ObjectID) ([]models.Schedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Schedule
	for _, sc := range s.schedules {
		if sc.ProgramID == programID && sc.IsActive {
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

// UpdateSchedule implements db.ScheduleCollection.
func (s *Store) UpdateSchedule(_ context.Context, sc *models.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedules[sc.ID]
	if !ok {
		return models.NotFound("schedule", sc.ID.Hex())
	}
	cur.Name = sc.Name
	cur.TaskIDs = sc.TaskIDs
	cur.Rule = sc.Rule
	cur.UpdatedAt = time.Now()
	s.schedules[sc.ID] = cur
	sc.UpdatedAt = cur.UpdatedAt
	return nil
}

// SoftDeleteSchedule implements db.ScheduleCollection.
func (s *Store) SoftDeleteSchedule(_ context.Context, id primitive.ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedules[id]
	if !ok {
		return models.NotFound("schedule", id.Hex())
	}
	cur.IsActive = false
	s.schedules[id] = cur
	return nil
}

// FindVehicleByID implements db.VehicleCollection.
func (s *Store) FindVehicleByID(_ context.Context, id primitive.ObjectID) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return nil, models.NotFound("vehicle", id.Hex())
	}
	return &v, nil
}

// FindVehiclesByProgram implements db.VehicleCollection.
func (s *Store) FindVehiclesByProgram(_ context.Context, programID primitive.ObjectID) ([]models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Vehicle
	for _, v := range s.vehicles {
		if v.AssignedTo(programID) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

// UpdateOdometer implements db.VehicleCollection.
func (s *Store) UpdateOdometer(_ context.Context, id primitive.ObjectID, km int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok {
		return false, models.NotFound("vehicle", id.Hex())
	}
	if km <= v.Odometer {
		return false, nil
	}
	v.Odometer = km
	v.OdometerUpdatedAt = &at
	s.vehicles[id] = v
	return true, nil
}

func (s *Store) findReminders(match func(r models.Reminder) bool) []models.Reminder {
	var out []models.Reminder
	for _, r := range s.reminders {
		if match(r) {
			out = append(out, r)
		}
	}
	sortReminders(out)
	return out
}

// FindRemindersForPair implements db.ReminderCollection.
func (s *Store) FindRemindersForPair(ctx context.Context, pair models.PairKey) ([]models.Reminder, error) {
	if s.FailPair != nil {
		if err := s.FailPair(pair); err != nil {
			return nil, err
		}
	}
	s.enterPair(ctx, pair)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findReminders(func(r models.Reminder) bool { return r.Pair() == pair }), nil
}

// FindRemindersByVehicle implements db.ReminderCollection.
func (s *Store) FindRemindersByVehicle(_ context.Context, vehicleID primitive.ObjectID) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findReminders(func(r models.Reminder) bool { return r.VehicleID == vehicleID }), nil
}

// FindReminderByID implements db.ReminderCollection.
func (s *Store) FindReminderByID(_ context.Context, id primitive.ObjectID) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, models.NotFound("reminder", id.Hex())
	}
	return &r, nil
}

// FindPendingPairs implements db.ReminderCollection.
func (s *Store) FindPendingPairs(_ context.Context) ([]models.PairKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[models.PairKey]bool)
	var out []models.PairKey
	for _, r := range s.findReminders(func(r models.Reminder) bool { return !r.IsFinal() }) {
		if !seen[r.Pair()] {
			seen[r.Pair()] = true
			out = append(out, r.Pair())
		}
	}
	return out, nil
}

// InsertReminderIfAbsent implements db.ReminderCollection.
func (s *Store) InsertReminderIfAbsent(ctx context.Context, r *models.Reminder) (bool, error) {
	if s.FailInsert != nil {
		if err := s.FailInsert(r); err != nil {
			return false, err
		}
	}
	s.enterPair(ctx, r.Pair())
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cur := range s.reminders {
		if cur.Pair() == r.Pair() && cur.Due == r.Due {
			return false, nil
		}
	}
	if r.ID.IsZero() {
		r.ID = primitive.NewObjectID()
	}
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	s.record(ctx, r.ID)
	s.reminders[r.ID] = *r
	return true, nil
}

// UpdateReminderIfNonFinal implements db.ReminderCollection.
func (s *Store) UpdateReminderIfNonFinal(ctx context.Context, r *models.Reminder) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reminders[r.ID]
	if !ok || cur.IsFinal() {
		return false, nil
	}
	s.record(ctx, r.ID)
	cur.Status = r.Status
	cur.UpdatedAt = time.Now()
	s.reminders[r.ID] = cur
	return true, nil
}

// DeleteReminderIfNonFinal implements db.ReminderCollection.
func (s *Store) DeleteReminderIfNonFinal(ctx context.Context, id primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reminders[id]
	if !ok || cur.IsFinal() {
		return false, nil
	}
	s.record(ctx, id)
	delete(s.reminders, id)
	return true, nil
}

// SetWorkOrder implements db.ReminderCollection.
func (s *Store) SetWorkOrder(_ context.Context, id, workOrderID primitive.ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reminders[id]
	if !ok || cur.WorkOrderID != nil {
		return false, nil
	}
	cur.WorkOrderID = &workOrderID
	s.reminders[id] = cur
	return true, nil
}

// FinalizeReminder implements db.ReminderCollection.
func (s *Store) FinalizeReminder(_ context.Context, id primitive.ObjectID, status models.ReminderStatus, at time.Time) (bool, error) {
	if !status.IsTerminal() {
		return false, models.Invalid("status", "%s is not a terminal status", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.reminders[id]
	if !ok || cur.Status.IsTerminal() {
		return false, nil
	}
	cur.Status = status
	cur.UpdatedAt = at
	if status == models.StatusCompleted {
		cur.CompletedAt = &at
	}
	s.reminders[id] = cur
	return true, nil
}
