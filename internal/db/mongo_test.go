package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestConnectMongo_EmptyURI(t *testing.T) {
	client, err := ConnectMongo(context.Background(), "")
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo(context.Background(), "mongodb://bad:uri")
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestNilCollections(t *testing.T) {
	ctx := context.Background()
	id := primitive.NewObjectID()

	_, err := (&MongoReminderCollection{}).FindReminderByID(ctx, id)
	assert.Error(t, err)
	_, err = (&MongoReminderCollection{}).InsertReminderIfAbsent(ctx, &models.Reminder{Due: models.DueAtMileage(1)})
	assert.Error(t, err)
	_, err = (&MongoReminderCollection{}).DeleteReminderIfNonFinal(ctx, id)
	assert.Error(t, err)
	_, err = (&MongoVehicleCollection{}).FindVehicleByID(ctx, id)
	assert.Error(t, err)
	_, err = (&MongoScheduleCollection{}).FindScheduleByID(ctx, id)
	assert.Error(t, err)
	_, err = (&MongoProgramCollection{}).FindProgramByID(ctx, id)
	assert.Error(t, err)
}

func TestReminderDoc_RoundTrip(t *testing.T) {
	anchor := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	wo := primitive.NewObjectID()
	in := models.Reminder{
		ID:          primitive.NewObjectID(),
		VehicleID:   primitive.NewObjectID(),
		ScheduleID:  primitive.NewObjectID(),
		ProgramID:   primitive.NewObjectID(),
		Due:         models.DueOnDate(anchor),
		Status:      models.StatusOverdue,
		WorkOrderID: &wo,
		Snapshot: models.Snapshot{
			Rule: models.TimeRule{
				Interval: models.Span{Value: 6, Unit: models.UnitMonths},
				Buffer:   models.Span{Value: 2, Unit: models.UnitWeeks},
				Anchor:   &anchor,
			},
			TaskIDs: []primitive.ObjectID{primitive.NewObjectID()},
		},
	}
	doc := toReminderDoc(&in)
	require.NotNil(t, doc.Due.Date)
	assert.Equal(t, anchor, *doc.Due.Date)

	out, err := doc.model()
	require.NoError(t, err)
	assert.Equal(t, in.Due, out.Due)
	assert.True(t, in.Snapshot.Equal(out.Snapshot))
	assert.True(t, out.IsFinal())

	doc.Due.Kind = "BOGUS"
	_, err = doc.model()
	assert.Error(t, err)
}

func TestNonFinalFilter(t *testing.T) {
	f := nonFinalFilter()
	assert.Contains(t, f, "status")
	assert.Contains(t, f, "work_order_id")
	assert.Nil(t, f["work_order_id"])
}

// Integration tests (require a running MongoDB)
func testStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set, skipping integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := ConnectMongo(ctx, uri)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	t.Cleanup(func() { _ = client.Disconnect(context.Background()) })

	database := client.Database("test_fleet_reminders")
	require.NoError(t, database.Drop(context.Background()))
	store := NewStore(client, "test_fleet_reminders", false)
	require.NoError(t, store.EnsureIndexes(context.Background()))
	return store
}

func TestMongoReminderCollection_Integration(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	reminder := &models.Reminder{
		VehicleID:  primitive.NewObjectID(),
		ScheduleID: primitive.NewObjectID(),
		ProgramID:  primitive.NewObjectID(),
		Due:        models.DueAtMileage(30000),
		Status:     models.StatusUpcoming,
		Snapshot:   models.Snapshot{Rule: models.MileageRule{Interval: 10000, Buffer: 1000}},
	}
	created, err := store.Reminders.InsertReminderIfAbsent(ctx, reminder)
	require.NoError(t, err)
	assert.True(t, created)
	firstID := reminder.ID

	dup := *reminder
	dup.ID = primitive.NilObjectID
	created, err = store.Reminders.InsertReminderIfAbsent(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, created, "natural key collision must be a no-op")

	rows, err := store.Reminders.FindRemindersForPair(ctx, reminder.Pair())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, firstID, rows[0].ID)

	changed := rows[0]
	changed.Status = models.StatusDueSoon
	changed.Snapshot = models.Snapshot{Rule: models.MileageRule{Interval: 5000, Buffer: 500}}
	updated, err := store.Reminders.UpdateReminderIfNonFinal(ctx, &changed)
	require.NoError(t, err)
	assert.True(t, updated)
	got, err := store.Reminders.FindReminderByID(ctx, firstID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDueSoon, got.Status)
	assert.True(t, got.Snapshot.Equal(reminder.Snapshot), "snapshot stays as generated")

	pairs, err := store.Reminders.FindPendingPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.PairKey{reminder.Pair()}, pairs)

	linked, err := store.Reminders.SetWorkOrder(ctx, firstID, primitive.NewObjectID())
	require.NoError(t, err)
	assert.True(t, linked)

	deleted, err := store.Reminders.DeleteReminderIfNonFinal(ctx, firstID)
	require.NoError(t, err)
	assert.False(t, deleted, "linked reminder must survive")

	pairs, err = store.Reminders.FindPendingPairs(ctx)
	require.NoError(t, err)
	assert.Empty(t, pairs)
}

func TestMongoVehicleCollection_UpdateOdometer_Integration(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	vehicle := &models.Vehicle{Type: "EV", Status: models.VehicleActive, Odometer: 1000}
	require.NoError(t, store.Vehicles.InsertVehicle(ctx, vehicle))

	updated, err := store.Vehicles.UpdateOdometer(ctx, vehicle.ID, 1500, time.Now())
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = store.Vehicles.UpdateOdometer(ctx, vehicle.ID, 1200, time.Now())
	require.NoError(t, err)
	assert.False(t, updated)

	_, err = store.Vehicles.UpdateOdometer(ctx, primitive.NewObjectID(), 1, time.Now())
	assert.True(t, models.IsNotFound(err))
}
