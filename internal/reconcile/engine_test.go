package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-reminders/internal/db/dbtest"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var today = time.Date(2026, 10, 15, 9, 30, 0, 0, time.UTC)

type fixture struct {
	store   *dbtest.Store
	engine  *Engine
	hook    *logtest.Hook
	program models.Program
	vehicle models.Vehicle
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := dbtest.New()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{store: store, hook: hook, now: today}
	f.program = store.PutProgram(models.Program{Name: "Preventive maintenance", IsActive: true})
	f.vehicle = f.addVehicle(15000)
	f.engine = NewEngine(
		Stores{Programs: store, Schedules: store, Vehicles: store, Reminders: store, Tx: store},
		Options{Workers: 3, Clock: func() time.Time { return f.now }, Logger: logger},
	)
	return f
}

func (f *fixture) addVehicle(odometer int64) models.Vehicle {
	return f.store.PutVehicle(models.Vehicle{
		Type:       "ICE",
		Status:     models.VehicleActive,
		Odometer:   odometer,
		ProgramIDs: []primitive.ObjectID{f.program.ID},
	})
}

func (f *fixture) addSchedule(rule models.Rule) models.Schedule {
	return f.store.PutSchedule(models.Schedule{
		ProgramID: f.program.ID,
		Name:      "Oil change",
		IsActive:  true,
		TaskIDs:   []primitive.ObjectID{primitive.NewObjectID()},
		Rule:      rule,
	})
}

func (f *fixture) sync(t *testing.T) SyncResult {
	t.Helper()
	result, err := f.engine.Sync(context.Background(), SyncRequest{})
	require.NoError(t, err)
	return result
}

func (f *fixture) remindersFor(vehicleID, scheduleID primitive.ObjectID) []models.Reminder {
	var out []models.Reminder
	for _, r := range f.store.Reminders() {
		if r.VehicleID == vehicleID && r.ScheduleID == scheduleID {
			out = append(out, r)
		}
	}
	return out
}

func dueDay(n int) models.Due {
	return models.DueOnDay(models.DayNumber(today) + int64(n))
}

func daysFromToday(n int) *time.Time {
	t := today.AddDate(0, 0, n)
	return &t
}

func int64Ptr(v int64) *int64 { return &v }

func dues(rs []models.Reminder) []models.Due {
	out := make([]models.Due, len(rs))
	for i, r := range rs {
		out[i] = r.Due
	}
	return out
}

func statuses(rs []models.Reminder) []models.ReminderStatus {
	out := make([]models.ReminderStatus, len(rs))
	for i, r := range rs {
		out[i] = r.Status
	}
	return out
}

func ids(rs []models.Reminder) []primitive.ObjectID {
	out := make([]primitive.ObjectID, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func countUpcoming(rs []models.Reminder) int {
	n := 0
	for _, r := range rs {
		if !r.IsFinal() && r.Status == models.StatusUpcoming {
			n++
		}
	}
	return n
}

func TestSync_TimeScenario(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.TimeRule{
		Interval: models.Span{Value: 180, Unit: models.UnitDays},
		Buffer:   models.Span{Value: 30, Unit: models.UnitDays},
		Anchor:   daysFromToday(-200),
	})

	result := f.sync(t)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.GeneratedCount)
	assert.Equal(t, 0, result.RemovedCount)
	assert.Equal(t, 1, result.PairCount)
	assert.NotEmpty(t, result.RunID)

	rows := f.remindersFor(f.vehicle.ID, s.ID)
	assert.Equal(t, []models.Due{dueDay(-200), dueDay(-20), dueDay(160)}, dues(rows))
	assert.Equal(t, []models.ReminderStatus{models.StatusOverdue, models.StatusOverdue, models.StatusUpcoming}, statuses(rows))
	for _, r := range rows {
		assert.Equal(t, f.program.ID, r.ProgramID)
		assert.True(t, r.Snapshot.Equal(models.SnapshotOf(&s)))
	}
}

func TestSync_MileageScenario(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000, Anchor: int64Ptr(30000)})

	result := f.sync(t)
	assert.Equal(t, 1, result.GeneratedCount)

	rows := f.remindersFor(f.vehicle.ID, s.ID)
	require.Len(t, rows, 1)
	km, ok := rows[0].Due.Mileage()
	require.True(t, ok)
	assert.Equal(t, int64(30000), km)
	assert.Equal(t, models.StatusUpcoming, rows[0].Status)
}

func TestSync_WeekUnitsDueSoonBoundary(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.TimeRule{
		Interval: models.Span{Value: 8, Unit: models.UnitWeeks},
		Buffer:   models.Span{Value: 2, Unit: models.UnitWeeks},
		Anchor:   daysFromToday(10),
	})

	f.sync(t)

	rows := f.remindersFor(f.vehicle.ID, s.ID)
	assert.Equal(t, []models.Due{dueDay(10), dueDay(66)}, dues(rows))
	assert.Equal(t, []models.ReminderStatus{models.StatusDueSoon, models.StatusUpcoming}, statuses(rows))
}

func TestSync_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addSchedule(models.TimeRule{
		Interval: models.Span{Value: 180, Unit: models.UnitDays},
		Buffer:   models.Span{Value: 30, Unit: models.UnitDays},
		Anchor:   daysFromToday(-200),
	})
	f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})
	f.addVehicle(42000)

	first := f.sync(t)
	require.True(t, first.Success)
	assert.Equal(t, 4, first.PairCount)
	before := ids(f.store.Reminders())

	second := f.sync(t)
	assert.True(t, second.Success)
	assert.Equal(t, 0, second.GeneratedCount)
	assert.Equal(t, 0, second.RemovedCount)
	assert.Equal(t, 0, second.UpdatedCount)
	assert.Equal(t, before, ids(f.store.Reminders()))
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestSync_SoftDeleteKeepsFinalReminders(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.TimeRule{
		Interval: models.Span{Value: 30, Unit: models.UnitDays},
		Buffer:   models.Span{Value: 7, Unit: models.UnitDays},
		Anchor:   daysFromToday(-100),
	})
	f.sync(t)

	rows := f.remindersFor(f.vehicle.ID, s.ID)
	require.Len(t, rows, 5)
	ctx := context.Background()
	_, err := f.store.FinalizeReminder(ctx, rows[0].ID, models.StatusCompleted, today)
	require.NoError(t, err)
	_, err = f.store.FinalizeReminder(ctx, rows[1].ID, models.StatusCancelled, today)
	require.NoError(t, err)
	_, err = f.store.SetWorkOrder(ctx, rows[2].ID, primitive.NewObjectID())
	require.NoError(t, err)

	require.NoError(t, f.store.SoftDeleteSchedule(ctx, s.ID))
	result := f.sync(t)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RemovedCount)
	assert.Equal(t, 0, result.GeneratedCount)

	left := f.remindersFor(f.vehicle.ID, s.ID)
	assert.Equal(t, ids(rows[:3]), ids(left))
	for _, r := range left {
		assert.True(t, r.IsFinal())
	}
	assert.Equal(t, []models.ReminderStatus{models.StatusCompleted, models.StatusCancelled, models.StatusOverdue}, statuses(left))

	again := f.sync(t)
	assert.Equal(t, 0, again.PairCount, "a pair with only final reminders is not revisited")
}

func TestSync_ScheduleUpdateRegenerates(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.TimeRule{
		Interval: models.Span{Value: 180, Unit: models.UnitDays},
		Buffer:   models.Span{Value: 30, Unit: models.UnitDays},
		Anchor:   daysFromToday(-200),
	})
	f.sync(t)
	rows := f.remindersFor(f.vehicle.ID, s.ID)
	require.Len(t, rows, 3)
	_, err := f.store.FinalizeReminder(context.Background(), rows[0].ID, models.StatusCompleted, today)
	require.NoError(t, err)

	s.Rule = models.TimeRule{
		Interval: models.Span{Value: 90, Unit: models.UnitDays},
		Buffer:   models.Span{Value: 30, Unit: models.UnitDays},
		Anchor:   daysFromToday(-200),
	}
	require.NoError(t, f.store.UpdateSchedule(context.Background(), &s))

	result := f.sync(t)
	assert.True(t, result.Success)
	assert.Equal(t, 2, result.GeneratedCount)
	assert.Equal(t, 1, result.RemovedCount)
	assert.Equal(t, 0, result.UpdatedCount)

	after := f.remindersFor(f.vehicle.ID, s.ID)
	assert.Equal(t, []models.Due{dueDay(-200), dueDay(-110), dueDay(-20), dueDay(70)}, dues(after))
	assert.Equal(t, rows[0].ID, after[0].ID)
	assert.Equal(t, rows[1].ID, after[2].ID, "surviving occurrence keeps its id")

	// Existing reminders keep the rule they were generated under.
	completedRule := after[0].Snapshot.Rule.(models.TimeRule)
	assert.Equal(t, int64(180), completedRule.Interval.Value)
	surviving := after[2].Snapshot.Rule.(models.TimeRule)
	assert.Equal(t, int64(180), surviving.Interval.Value)
	created := after[1].Snapshot.Rule.(models.TimeRule)
	assert.Equal(t, int64(90), created.Interval.Value)
	assert.Equal(t, 1, countUpcoming(after))
}

func TestSync_StatusAdvancesWithClock(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.TimeRule{
		Interval: models.Span{Value: 180, Unit: models.UnitDays},
		Buffer:   models.Span{Value: 30, Unit: models.UnitDays},
		Anchor:   daysFromToday(-200),
	})
	f.sync(t)
	upcomingID := f.remindersFor(f.vehicle.ID, s.ID)[2].ID

	f.now = today.AddDate(0, 0, 140)
	result := f.sync(t)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, 1, result.GeneratedCount)

	rows := f.remindersFor(f.vehicle.ID, s.ID)
	require.Len(t, rows, 4)
	assert.Equal(t, upcomingID, rows[2].ID)
	assert.Equal(t, models.StatusDueSoon, rows[2].Status)
	assert.Equal(t, dueDay(340), rows[3].Due)
	assert.Equal(t, 1, countUpcoming(rows))
}

func TestSync_MileageAnchorDoesNotDrift(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})

	f.sync(t)
	rows := f.remindersFor(f.vehicle.ID, s.ID)
	require.Len(t, rows, 1)
	assert.Equal(t, models.DueAtMileage(25000), rows[0].Due)

	_, err := f.store.UpdateOdometer(context.Background(), f.vehicle.ID, 24500, today)
	require.NoError(t, err)
	result := f.sync(t)
	assert.Equal(t, 1, result.GeneratedCount)
	assert.Equal(t, 1, result.UpdatedCount)
	assert.Equal(t, 0, result.RemovedCount)

	rows = f.remindersFor(f.vehicle.ID, s.ID)
	assert.Equal(t, []models.Due{models.DueAtMileage(25000), models.DueAtMileage(35000)}, dues(rows))
	assert.Equal(t, []models.ReminderStatus{models.StatusDueSoon, models.StatusUpcoming}, statuses(rows))
}

func TestSync_UnassignedVehicleIsCleanedUp(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000, Anchor: int64Ptr(10000)})
	f.sync(t)
	rows := f.remindersFor(f.vehicle.ID, s.ID)
	require.Len(t, rows, 2)
	_, err := f.store.FinalizeReminder(context.Background(), rows[0].ID, models.StatusCompleted, today)
	require.NoError(t, err)

	f.vehicle.ProgramIDs = nil
	f.store.PutVehicle(f.vehicle)

	result := f.sync(t)
	assert.Equal(t, 1, result.PairCount)
	assert.Equal(t, 1, result.RemovedCount)
	left := f.remindersFor(f.vehicle.ID, s.ID)
	assert.Equal(t, []primitive.ObjectID{rows[0].ID}, ids(left))
	assert.Equal(t, 0, countUpcoming(left))
}

func TestSync_InactiveProgramIsCleanedUp(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})
	f.sync(t)
	require.Len(t, f.remindersFor(f.vehicle.ID, s.ID), 1)

	f.program.IsActive = false
	f.store.PutProgram(f.program)

	result := f.sync(t)
	assert.Equal(t, 1, result.RemovedCount)
	assert.Empty(t, f.remindersFor(f.vehicle.ID, s.ID))
}

func TestSync_PairFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000, Anchor: int64Ptr(5000)})
	broken := f.addVehicle(30000)

	f.store.FailInsert = func(r *models.Reminder) error {
		if r.VehicleID == broken.ID && r.Due == models.DueAtMileage(25000) {
			return errors.New("disk full")
		}
		return nil
	}

	result, err := f.engine.Sync(context.Background(), SyncRequest{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	require.Len(t, result.PairErrors, 1)
	pe := result.PairErrors[0]
	assert.Equal(t, broken.ID.Hex(), pe.VehicleID)
	assert.Equal(t, s.ID.Hex(), pe.ScheduleID)
	assert.Equal(t, "internal", pe.Kind)
	assert.Contains(t, pe.Message, "disk full")

	assert.Len(t, f.remindersFor(f.vehicle.ID, s.ID), 3)
	assert.Empty(t, f.remindersFor(broken.ID, s.ID), "failed pair must be rolled back")
	assert.Equal(t, 3, result.GeneratedCount, "rolled back writes are not counted")

	var warned bool
	for _, entry := range f.hook.AllEntries() {
		if entry.Level == logrus.WarnLevel && entry.Data["vehicle_id"] == broken.ID.Hex() {
			warned = true
		}
	}
	assert.True(t, warned)

	f.store.FailInsert = nil
	retry := f.sync(t)
	assert.True(t, retry.Success)
	assert.Len(t, f.remindersFor(broken.ID, s.ID), 4)
}

func TestSync_MissingScheduleIsNotFound(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})
	orphan := f.store.PutReminder(models.Reminder{
		VehicleID:  f.vehicle.ID,
		ScheduleID: primitive.NewObjectID(),
		ProgramID:  f.program.ID,
		Due:        models.DueAtMileage(20000),
		Status:     models.StatusUpcoming,
		Snapshot:   models.Snapshot{Rule: models.MileageRule{Interval: 5000, Buffer: 500}},
	})

	result, err := f.engine.Sync(context.Background(), SyncRequest{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.PairCount)
	require.Len(t, result.PairErrors, 1)
	assert.Equal(t, "not_found", result.PairErrors[0].Kind)
	assert.Equal(t, orphan.ScheduleID.Hex(), result.PairErrors[0].ScheduleID)

	assert.Len(t, f.remindersFor(f.vehicle.ID, s.ID), 1)
	assert.Len(t, f.remindersFor(f.vehicle.ID, orphan.ScheduleID), 1)
}

func TestSync_MissingVehicleIsNotFound(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})

	_, err := f.engine.ReconcilePair(context.Background(), models.PairKey{VehicleID: primitive.NewObjectID(), ScheduleID: s.ID}, today)
	assert.True(t, models.IsNotFound(err))
}

func TestSync_MalformedRequest(t *testing.T) {
	f := newFixture(t)
	f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})

	_, err := f.engine.Sync(context.Background(), SyncRequest{ProgramID: "not-an-id"})
	assert.True(t, models.IsValidation(err))
	_, err = f.engine.Sync(context.Background(), SyncRequest{VehicleID: "1234"})
	assert.True(t, models.IsValidation(err))
	assert.Empty(t, f.store.Reminders())
}

func TestSync_Scoped(t *testing.T) {
	f := newFixture(t)
	s := f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})
	other := f.addVehicle(1000)

	result, err := f.engine.Sync(context.Background(), SyncRequest{VehicleID: other.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, 1, result.PairCount)
	assert.Len(t, f.remindersFor(other.ID, s.ID), 1)
	assert.Empty(t, f.remindersFor(f.vehicle.ID, s.ID))

	otherProgram := f.store.PutProgram(models.Program{Name: "Tires", IsActive: true})
	result, err = f.engine.Sync(context.Background(), SyncRequest{ProgramID: otherProgram.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, 0, result.PairCount)

	result, err = f.engine.Sync(context.Background(), SyncRequest{ProgramID: f.program.ID.Hex()})
	require.NoError(t, err)
	assert.Equal(t, 2, result.PairCount)
	assert.Equal(t, 1, result.GeneratedCount)
}

func TestSync_ExactlyOneUpcomingPerActivePair(t *testing.T) {
	f := newFixture(t)
	rules := []models.Rule{
		models.TimeRule{Interval: models.Span{Value: 1, Unit: models.UnitMonths}, Buffer: models.Span{Value: 1, Unit: models.UnitWeeks}, Anchor: daysFromToday(-400)},
		models.TimeRule{Interval: models.Span{Value: 1, Unit: models.UnitYears}, Buffer: models.Span{Value: 2, Unit: models.UnitMonths}, Anchor: daysFromToday(0)},
		models.MileageRule{Interval: 5000, Buffer: 500, Anchor: int64Ptr(1000)},
		models.MileageRule{Interval: 15000, Buffer: 2000},
	}
	var schedules []models.Schedule
	for _, r := range rules {
		schedules = append(schedules, f.addSchedule(r))
	}
	vehicles := []models.Vehicle{f.vehicle, f.addVehicle(0), f.addVehicle(123456)}

	for _, step := range []int{0, 15, 90, 400} {
		f.now = today.AddDate(0, 0, step)
		result := f.sync(t)
		require.True(t, result.Success)
		for _, v := range vehicles {
			for _, s := range schedules {
				assert.Equal(t, 1, countUpcoming(f.remindersFor(v.ID, s.ID)), "vehicle %s schedule %s day %d", v.ID.Hex(), s.ID.Hex(), step)
			}
		}
	}
}

func TestSync_ConcurrentRunsDoNotDuplicate(t *testing.T) {
	f := newFixture(t)
	schedules := []models.Schedule{
		f.addSchedule(models.TimeRule{
			Interval: models.Span{Value: 1, Unit: models.UnitMonths},
			Buffer:   models.Span{Value: 1, Unit: models.UnitWeeks},
			Anchor:   daysFromToday(-200),
		}),
		f.addSchedule(models.MileageRule{Interval: 5000, Buffer: 500, Anchor: int64Ptr(1000)}),
	}
	vehicles := []models.Vehicle{f.vehicle, f.addVehicle(0), f.addVehicle(42000), f.addVehicle(99000)}

	const runs = 4
	results := make([]SyncResult, runs)
	errs := make([]error, runs)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			results[i], errs[i] = f.engine.Sync(context.Background(), SyncRequest{})
		}()
	}
	close(start)
	wg.Wait()

	generated := 0
	for i := range runs {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Success)
		generated += results[i].GeneratedCount
	}

	all := f.store.Reminders()
	assert.Equal(t, len(all), generated, "every stored reminder was created by exactly one run")

	type naturalKey struct {
		pair models.PairKey
		due  models.Due
	}
	seen := make(map[naturalKey]bool)
	for _, r := range all {
		key := naturalKey{r.Pair(), r.Due}
		assert.False(t, seen[key], "duplicate reminder %s for vehicle %s", r.Due, r.VehicleID.Hex())
		seen[key] = true
	}
	for _, v := range vehicles {
		for _, s := range schedules {
			assert.Equal(t, 1, countUpcoming(f.remindersFor(v.ID, s.ID)), "vehicle %s schedule %s", v.ID.Hex(), s.ID.Hex())
		}
	}
}

func TestSync_CancelledContext(t *testing.T) {
	f := newFixture(t)
	f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result, err := f.engine.Sync(ctx, SyncRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.GeneratedCount)
	assert.Empty(t, f.store.Reminders())
}

func TestSync_RecordsMetrics(t *testing.T) {
	f := newFixture(t)
	f.addSchedule(models.MileageRule{Interval: 10000, Buffer: 1000, Anchor: int64Ptr(10000)})

	before := testutil.ToFloat64(remindersGeneratedTotal)
	f.sync(t)
	assert.Equal(t, before+2, testutil.ToFloat64(remindersGeneratedTotal))
	assert.Equal(t, float64(today.Unix()), testutil.ToFloat64(lastSuccess))
}
