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

// MongoProgramCollection implements ProgramCollection for MongoDB.
type MongoProgramCollection struct {
	Collection *mongo.Collection
}

// InsertProgram inserts a program record.
func (c *MongoProgramCollection) InsertProgram(ctx context.Context, program *models.Program) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	if program.ID.IsZero() {
		program.ID = primitive.NewObjectID()
	}
	program.CreatedAt = time.Now()
	_, err := c.Collection.InsertOne(ctx, program)
	return err
}

// FindProgramByID finds a program by its ID.
func (c *MongoProgramCollection) FindProgramByID(ctx context.Context, id primitive.ObjectID) (*models.Program, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	var program models.Program
	err := c.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&program)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, models.NotFound("program", id.Hex())
		}
		return nil, err
	}
	return &program, nil
}

// FindActivePrograms lists programs that have not been soft-deleted.
func (c *MongoProgramCollection) FindActivePrograms(ctx context.Context) ([]models.Program, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, bson.M{"is_active": true})
	if err != nil {
		return nil, err
	}
	return decodeAll[models.Program](ctx, cursor)
}
