package cli

import (
	"context"
	"fmt"

	"github.com/ukydev/fleet-reminders/internal/config"
	"github.com/ukydev/fleet-reminders/internal/db"
	"github.com/ukydev/fleet-reminders/internal/models"
	"github.com/ukydev/fleet-reminders/internal/reconcile"
)

// ProgramWriter creates programs.
type ProgramWriter interface {
	InsertProgram(ctx context.Context, program *models.Program) error
}

// VehicleWriter creates vehicles.
type VehicleWriter interface {
	InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error
}

// Backend is the storage a command works against.
type Backend struct {
	Stores   reconcile.Stores
	Programs ProgramWriter
	Vehicles VehicleWriter
	// EnsureIndexes may be nil for stores without indexes.
	EnsureIndexes func(ctx context.Context) error
	Close         func(ctx context.Context) error
}

// OpenFunc opens the backend described by cfg.
type OpenFunc func(ctx context.Context, cfg *config.Config) (*Backend, error)

// OpenMongo connects to the configured MongoDB database.
func OpenMongo(ctx context.Context, cfg *config.Config) (*Backend, error) {
	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	store := db.NewStore(client, cfg.MongoDB, cfg.MongoTransactions)
	return &Backend{
		Stores: reconcile.Stores{
			Programs:  store.Programs,
			Schedules: store.Schedules,
			Vehicles:  store.Vehicles,
			Reminders: store.Reminders,
			Tx:        store,
		},
		Programs:      store.Programs,
		Vehicles:      store.Vehicles,
		EnsureIndexes: store.EnsureIndexes,
		Close:         client.Disconnect,
	}, nil
}

func (o *RootOptions) open(ctx context.Context) (*config.Config, *Backend, error) {
	cfg, err := o.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	backend, err := o.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, backend, nil
}

func (b *Backend) close(ctx context.Context) {
	if b.Close != nil {
		_ = b.Close(ctx)
	}
}
