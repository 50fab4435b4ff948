package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type dueDoc struct {
	Kind  models.RuleKind `bson:"kind"`
	Value int64           `bson:"value"`
	// Date is informational; Value is authoritative.
	Date *time.Time `bson:"date,omitempty"`
}

type snapshotDoc struct {
	Rule    models.RuleSpec      `bson:"rule"`
	TaskIDs []primitive.ObjectID `bson:"task_ids"`
}

type reminderDoc struct {
	ID          primitive.ObjectID    `bson:"_id,omitempty"`
	VehicleID   primitive.ObjectID    `bson:"vehicle_id"`
	ScheduleID  primitive.ObjectID    `bson:"schedule_id"`
	ProgramID   primitive.ObjectID    `bson:"program_id"`
	Due         dueDoc                `bson:"due"`
	Status      models.ReminderStatus `bson:"status"`
	WorkOrderID *primitive.ObjectID   `bson:"work_order_id"`
	Snapshot    snapshotDoc           `bson:"snapshot"`
	CreatedAt   time.Time             `bson:"created_at"`
	UpdatedAt   time.Time             `bson:"updated_at"`
	CompletedAt *time.Time            `bson:"completed_at,omitempty"`
}

func toDueDoc(d models.Due) dueDoc {
	doc := dueDoc{Kind: d.Kind(), Value: d.Value()}
	if t, ok := d.Date(); ok {
		doc.Date = &t
	}
	return doc
}

func (d dueDoc) model() (models.Due, error) {
	switch d.Kind {
	case models.KindTime:
		return models.DueOnDay(d.Value), nil
	case models.KindMileage:
		return models.DueAtMileage(d.Value), nil
	default:
		return models.Due{}, fmt.Errorf("unknown due kind %q", d.Kind)
	}
}

func toReminderDoc(r *models.Reminder) reminderDoc {
	return reminderDoc{
		ID:          r.ID,
		VehicleID:   r.VehicleID,
		ScheduleID:  r.ScheduleID,
		ProgramID:   r.ProgramID,
		Due:         toDueDoc(r.Due),
		Status:      r.Status,
		WorkOrderID: r.WorkOrderID,
		Snapshot: snapshotDoc{
			Rule:    models.SpecOf(r.Snapshot.Rule),
			TaskIDs: r.Snapshot.TaskIDs,
		},
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		CompletedAt: r.CompletedAt,
	}
}

func (d reminderDoc) model() (models.Reminder, error) {
	due, err := d.Due.model()
	if err != nil {
		return models.Reminder{}, fmt.Errorf("reminder %s: %w", d.ID.Hex(), err)
	}
	rule, err := d.Snapshot.Rule.Rule()
	if err != nil {
		return models.Reminder{}, fmt.Errorf("reminder %s snapshot: %w", d.ID.Hex(), err)
	}
	return models.Reminder{
		ID:          d.ID,
		VehicleID:   d.VehicleID,
		ScheduleID:  d.ScheduleID,
		ProgramID:   d.ProgramID,
		Due:         due,
		Status:      d.Status,
		WorkOrderID: d.WorkOrderID,
		Snapshot:    models.Snapshot{Rule: rule, TaskIDs: d.Snapshot.TaskIDs},
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		CompletedAt: d.CompletedAt,
	}, nil
}

// nonFinalFilter mirrors models.Reminder.IsFinal on the server side.
func nonFinalFilter() bson.M {
	return bson.M{
		"status":        bson.M{"$nin": bson.A{models.StatusCompleted, models.StatusCancelled}},
		"work_order_id": nil,
	}
}

func naturalKey(r *models.Reminder) bson.M {
	return bson.M{
		"vehicle_id":  r.VehicleID,
		"schedule_id": r.ScheduleID,
		"due.kind":    r.Due.Kind(),
		"due.value":   r.Due.Value(),
	}
}

// MongoReminderCollection implements ReminderCollection for MongoDB.
type MongoReminderCollection struct {
	Collection *mongo.Collection
}

func (c *MongoReminderCollection) find(ctx context.Context, filter bson.M) ([]models.Reminder, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[reminderDoc](ctx, cursor)
	if err != nil {
		return nil, err
	}
	reminders := make([]models.Reminder, 0, len(docs))
	for _, d := range docs {
		r, err := d.model()
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	sort.SliceStable(reminders, func(i, j int) bool {
		return reminders[i].Due.Value() < reminders[j].Due.Value()
	})
	return reminders, nil
}

// FindRemindersForPair lists every reminder of a pair, final ones included,
// ordered by due value.
func (c *MongoReminderCollection) FindRemindersForPair(ctx context.Context, pair models.PairKey) ([]models.Reminder, error) {
	return c.find(ctx, bson.M{"vehicle_id": pair.VehicleID, "schedule_id": pair.ScheduleID})
}

// FindRemindersByVehicle lists every reminder of a vehicle ordered by due value.
func (c *MongoReminderCollection) FindRemindersByVehicle(ctx context.Context, vehicleID primitive.ObjectID) ([]models.Reminder, error) {
	return c.find(ctx, bson.M{"vehicle_id": vehicleID})
}

// FindReminderByID finds a reminder by its ID.
func (c *MongoReminderCollection) FindReminderByID(ctx context.Context, id primitive.ObjectID) (*models.Reminder, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var doc reminderDoc
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFound("reminder", id.Hex())
		}
		return nil, err
	}
	r, err := doc.model()
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindPendingPairs lists the distinct pairs that still hold non-final reminders.
func (c *MongoReminderCollection) FindPendingPairs(ctx context.Context) ([]models.PairKey, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: nonFinalFilter()}},
		{{Key: "$group", Value: bson.M{"_id": bson.M{
			"vehicle_id":  "$vehicle_id",
			"schedule_id": "$schedule_id",
		}}}},
	}
	cursor, err := c.Collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	rows, err := decodeAll[struct {
		Pair models.PairKey `bson:"_id"`
	}](ctx, cursor)
	if err != nil {
		return nil, err
	}
	pairs := make([]models.PairKey, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, row.Pair)
	}
	return pairs, nil
}

// InsertReminderIfAbsent upserts on the natural key with $setOnInsert, so an
// existing row is never modified. A duplicate-key race with a concurrent
// writer is resolved as a no-op.
func (c *MongoReminderCollection) InsertReminderIfAbsent(ctx context.Context, reminder *models.Reminder) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	if reminder.Due.IsZero() {
		return false, models.Invalid("due", "is required")
	}

	doc := toReminderDoc(reminder)
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}
	now := time.Now()
	doc.CreatedAt, doc.UpdatedAt = now, now

	result, err := c.Collection.UpdateOne(ctx,
		naturalKey(reminder),
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	if result.UpsertedCount == 0 {
		return false, nil
	}

	reminder.ID = doc.ID
	reminder.CreatedAt, reminder.UpdatedAt = now, now
	return true, nil
}

// UpdateReminderIfNonFinal rewrites the status of a non-final reminder. The
// snapshot taken at generation is left alone. It reports false when the
// reminder is missing or final.
func (c *MongoReminderCollection) UpdateReminderIfNonFinal(ctx context.Context, reminder *models.Reminder) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	filter := nonFinalFilter()
	filter["_id"] = reminder.ID

	now := time.Now()
	result, err := c.Collection.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"status":     reminder.Status,
		"updated_at": now,
	}})
	if err != nil {
		return false, err
	}
	if result.MatchedCount == 0 {
		return false, nil
	}
	reminder.UpdatedAt = now
	return true, nil
}

// DeleteReminderIfNonFinal deletes a non-final reminder. It reports false
// when the reminder is missing or final.
func (c *MongoReminderCollection) DeleteReminderIfNonFinal(ctx context.Context, id primitive.ObjectID) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	filter := nonFinalFilter()
	filter["_id"] = id

	result, err := c.Collection.DeleteOne(ctx, filter)
	if err != nil {
		return false, err
	}
	return result.DeletedCount > 0, nil
}

// SetWorkOrder links a work order to a reminder that is not linked yet.
func (c *MongoReminderCollection) SetWorkOrder(ctx context.Context, id, workOrderID primitive.ObjectID) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "work_order_id": nil},
		bson.M{"$set": bson.M{"work_order_id": workOrderID, "updated_at": time.Now()}},
	)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}

// FinalizeReminder sets a terminal status on a reminder that has none yet.
// Work-order-linked reminders can still be completed or cancelled.
func (c *MongoReminderCollection) FinalizeReminder(ctx context.Context, id primitive.ObjectID, status models.ReminderStatus, at time.Time) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}
	if !status.IsTerminal() {
		return false, models.Invalid("status", "%s is not a terminal status", status)
	}
	set := bson.M{"status": status, "updated_at": at}
	if status == models.StatusCompleted {
		set["completed_at"] = at
	}
	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "status": bson.M{"$nin": bson.A{models.StatusCompleted, models.StatusCancelled}}},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, err
	}
	return result.MatchedCount > 0, nil
}
