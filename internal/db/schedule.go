package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/fleet-reminders/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type scheduleDoc struct {
	ID        primitive.ObjectID   `bson:"_id,omitempty"`
	ProgramID primitive.ObjectID   `bson:"program_id"`
	Name      string               `bson:"name"`
	IsActive  bool                 `bson:"is_active"`
	TaskIDs   []primitive.ObjectID `bson:"task_ids"`
	Rule      models.RuleSpec      `bson:"rule"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

func toScheduleDoc(s *models.Schedule) scheduleDoc {
	return scheduleDoc{
		ID:        s.ID,
		ProgramID: s.ProgramID,
		Name:      s.Name,
		IsActive:  s.IsActive,
		TaskIDs:   s.TaskIDs,
		Rule:      models.SpecOf(s.Rule),
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func (d scheduleDoc) model() (*models.Schedule, error) {
	rule, err := d.Rule.Rule()
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", d.ID.Hex(), err)
	}
	return &models.Schedule{
		ID:        d.ID,
		ProgramID: d.ProgramID,
		Name:      d.Name,
		IsActive:  d.IsActive,
		TaskIDs:   d.TaskIDs,
		Rule:      rule,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}, nil
}

// MongoScheduleCollection implements ScheduleCollection for MongoDB.
type MongoScheduleCollection struct {
	Collection *mongo.Collection
}

// InsertSchedule inserts a schedule and assigns its ID.
func (c *MongoScheduleCollection) InsertSchedule(ctx context.Context, schedule *models.Schedule) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if schedule.ID.IsZero() {
		schedule.ID = primitive.NewObjectID()
	}
	now := time.Now()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	_, err := c.Collection.InsertOne(ctx, toScheduleDoc(schedule))
	return err
}

// FindScheduleByID finds a schedule by its ID, including soft-deleted ones.
func (c *MongoScheduleCollection) FindScheduleByID(ctx context.Context, id primitive.ObjectID) (*models.Schedule, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var doc scheduleDoc
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFound("schedule", id.Hex())
		}
		return nil, err
	}
	return doc.model()
}

// FindActiveSchedules lists the active schedules of a program.
func (c *MongoScheduleCollection) FindActiveSchedules(ctx context.Context, programID primitive.ObjectID) ([]models.Schedule, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"program_id": programID, "is_active": true})
	if err != nil {
		return nil, err
	}
	docs, err := decodeAll[scheduleDoc](ctx, cursor)
	if err != nil {
		return nil, err
	}
	schedules := make([]models.Schedule, 0, len(docs))
	for _, d := range docs {
		s, err := d.model()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, nil
}

// UpdateSchedule replaces the editable fields of a schedule.
func (c *MongoScheduleCollection) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	schedule.UpdatedAt = time.Now()
	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": schedule.ID}, bson.M{"$set": bson.M{
		"name":       schedule.Name,
		"task_ids":   schedule.TaskIDs,
		"rule":       models.SpecOf(schedule.Rule),
		"updated_at": schedule.UpdatedAt,
	}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return models.NotFound("schedule", schedule.ID.Hex())
	}
	return nil
}

// SoftDeleteSchedule marks a schedule inactive.
func (c *MongoScheduleCollection) SoftDeleteSchedule(ctx context.Context, id primitive.ObjectID) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	result, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_active":  false,
		"updated_at": time.Now(),
	}})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return models.NotFound("schedule", id.Hex())
	}
	return nil
}
