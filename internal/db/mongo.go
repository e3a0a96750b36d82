package db

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

var (
	Client   *mongo.Client
	Database *mongo.Database
)

// InitMongo connects to the document store and pings it, retrying a
// few times so the collector survives a store that is still starting.
func InitMongo(ctx context.Context, uri, database string) error {
	var lastErr error

	for i := 0; i < 10; i++ {
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
		if err == nil {
			err = client.Ping(connectCtx, readpref.Primary())
		}
		cancel()

		if err == nil {
			Client = client
			Database = client.Database(database)
			return nil
		}

		lastErr = err
		select {
		case <-time.After(500 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed to connect to mongo: %w", lastErr)
}

// Close disconnects the client.
func Close(ctx context.Context) error {
	if Client == nil {
		return nil
	}
	return Client.Disconnect(ctx)
}
