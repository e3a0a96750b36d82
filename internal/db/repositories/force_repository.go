package repositories

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"osprey-eyes/mindseye/internal/models"
)

// ForceRepository owns the forces collection.
type ForceRepository struct {
	collection *mongo.Collection
}

func NewForceRepository(database *mongo.Database) *ForceRepository {
	return &ForceRepository{collection: database.Collection("forces")}
}

// List returns all tracked forces.
func (r *ForceRepository) List(ctx context.Context) ([]models.Force, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list forces: %w", err)
	}

	var forces []models.Force
	if err := cursor.All(ctx, &forces); err != nil {
		return nil, fmt.Errorf("failed to decode forces: %w", err)
	}
	return forces, nil
}

// Add registers a new force. The chat front end calls this through its
// command surface; the collector only reads.
func (r *ForceRepository) Add(ctx context.Context, name, callsignFilter string) error {
	_, err := r.collection.InsertOne(ctx, models.Force{
		Name:           name,
		CallsignFilter: callsignFilter,
		Patrols:        []models.Patrol{},
	})
	return err
}

// Remove deletes a force by name.
func (r *ForceRepository) Remove(ctx context.Context, name string) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"name": name})
	return err
}

// OpenPatrol appends a new open patrol entry for the pilot, guarded so
// a second open entry for the same (force, accountId) is not created.
func (r *ForceRepository) OpenPatrol(ctx context.Context, forceID primitive.ObjectID, accountID, callsign string, now time.Time) error {
	filter := bson.M{
		"_id": forceID,
		"patrols": bson.M{
			"$not": bson.M{
				"$elemMatch": bson.M{"accountId": accountID, "endTime": nil},
			},
		},
	}
	update := bson.M{
		"$push": bson.M{
			"patrols": models.Patrol{
				AccountID: accountID,
				Callsign:  callsign,
				StartTime: now,
			},
		},
	}
	_, err := r.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to open patrol: %w", err)
	}
	return nil
}

// ClosePatrol stamps endTime on the pilot's open patrol entry. The
// open-patrol invariant means at most one entry matches.
func (r *ForceRepository) ClosePatrol(ctx context.Context, forceID primitive.ObjectID, accountID string, now time.Time) error {
	update := bson.M{
		"$set": bson.M{"patrols.$[open].endTime": now},
	}
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{
			bson.M{"open.accountId": accountID, "open.endTime": nil},
		},
	})
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": forceID}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to close patrol: %w", err)
	}
	return nil
}
