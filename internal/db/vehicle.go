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

// MongoVehicleCollection implements VehicleCollection for MongoDB.
type MongoVehicleCollection struct {
	Collection *mongo.Collection
}

// InsertVehicle inserts a vehicle record into the collection.
func (c *MongoVehicleCollection) InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if vehicle.ID.IsZero() {
		vehicle.ID = primitive.NewObjectID()
	}
	vehicle.CreatedAt = time.Now()
	_, err := c.Collection.InsertOne(ctx, vehicle)
	return err
}

// FindVehicleByID finds a vehicle by its ID.
func (c *MongoVehicleCollection) FindVehicleByID(ctx context.Context, id primitive.ObjectID) (*models.Vehicle, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}

	var vehicle models.Vehicle
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&vehicle)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFound("vehicle", id.Hex())
		}
		return nil, err
	}

	return &vehicle, nil
}

// FindVehiclesByProgram lists active vehicles assigned to a program.
func (c *MongoVehicleCollection) FindVehiclesByProgram(ctx context.Context, programID primitive.ObjectID) ([]models.Vehicle, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"program_ids": programID, "status": models.VehicleActive})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Vehicle](ctx, cursor)
}

// UpdateOdometer raises the stored odometer reading. Readings at or below
// the stored value are ignored.
func (c *MongoVehicleCollection) UpdateOdometer(ctx context.Context, id primitive.ObjectID, km int64, at time.Time) (bool, error) {
	if c.Collection == nil {
		return false, fmt.Errorf("mongo collection is nil")
	}

	result, err := c.Collection.UpdateOne(ctx,
		bson.M{"_id": id, "odometer": bson.M{"$lt": km}},
		bson.M{"$set": bson.M{"odometer": km, "odometer_updated_at": at}},
	)
	if err != nil {
		return false, err
	}
	if result.MatchedCount > 0 {
		return true, nil
	}

	// Distinguish a stale reading from an unknown vehicle.
	if _, err := c.FindVehicleByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}
