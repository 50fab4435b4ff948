package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	ProgramsCollection  = "programs"
	SchedulesCollection = "schedules"
	VehiclesCollection  = "vehicles"
	RemindersCollection = "reminders"
)

// ConnectMongo connects to MongoDB and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// Store bundles the collections the reminder engine works with.
type Store struct {
	client       *mongo.Client
	transactions bool

	Programs  *MongoProgramCollection
	Schedules *MongoScheduleCollection
	Vehicles  *MongoVehicleCollection
	Reminders *MongoReminderCollection
}

// NewStore wraps the named database. transactions must be false against a
// standalone server, which does not support multi-document transactions.
func NewStore(client *mongo.Client, dbName string, transactions bool) *Store {
	database := client.Database(dbName)
	return &Store{
		client:       client,
		transactions: transactions,
		Programs:     &MongoProgramCollection{Collection: database.Collection(ProgramsCollection)},
		Schedules:    &MongoScheduleCollection{Collection: database.Collection(SchedulesCollection)},
		Vehicles:     &MongoVehicleCollection{Collection: database.Collection(VehiclesCollection)},
		Reminders:    &MongoReminderCollection{Collection: database.Collection(RemindersCollection)},
	}
}

// WithTransaction runs fn inside a session transaction. Transient errors are
// retried by the driver.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !s.transactions {
		return fn(ctx)
	}
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// EnsureIndexes creates the indexes the engine relies on. The unique index on
// the reminder natural key is what makes concurrent inserts collapse.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.Reminders.Collection: {
			{
				Keys: bson.D{
					{Key: "vehicle_id", Value: 1},
					{Key: "schedule_id", Value: 1},
					{Key: "due.kind", Value: 1},
					{Key: "due.value", Value: 1},
				},
				Options: options.Index().SetUnique(true).SetName("reminder_natural_key"),
			},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "work_order_id", Value: 1}}},
		},
		s.Schedules.Collection: {
			{Keys: bson.D{{Key: "program_id", Value: 1}, {Key: "is_active", Value: 1}}},
		},
		s.Vehicles.Collection: {
			{Keys: bson.D{{Key: "program_ids", Value: 1}, {Key: "status", Value: 1}}},
		},
	}
	for coll, specs := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, specs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func decodeAll[T any](ctx context.Context, cursor *mongo.Cursor) ([]T, error) {
	defer cursor.Close(ctx)
	var out []T
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
