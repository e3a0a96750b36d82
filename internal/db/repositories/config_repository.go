package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/models"
)

// ConfigRepository owns the single-document configurations collection.
// The chat front end writes toggles; the collector reads them every
// tick and reconciles the document schema once at startup.
type ConfigRepository struct {
	collection *mongo.Collection
}

func NewConfigRepository(database *mongo.Database) *ConfigRepository {
	return &ConfigRepository{collection: database.Collection("configurations")}
}

// Load returns the current feature toggles. A missing document is
// created from defaults first, so the front end always has something
// to toggle.
func (r *ConfigRepository) Load(ctx context.Context) (models.Toggles, error) {
	var toggles models.Toggles

	err := r.collection.FindOne(ctx, bson.M{}).Decode(&toggles)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, ierr := r.collection.InsertOne(ctx, models.DefaultConfiguration()); ierr != nil {
			return toggles, fmt.Errorf("failed to insert default configuration: %w", ierr)
		}
		return models.Toggles{}, nil
	}
	if err != nil {
		return toggles, fmt.Errorf("failed to load configuration: %w", err)
	}
	return toggles, nil
}

// Reconcile aligns the stored document with the known default schema:
// unknown keys are stripped, missing keys backfilled with defaults.
// Idempotent; called once at startup.
func (r *ConfigRepository) Reconcile(ctx context.Context) error {
	defaults := models.DefaultConfiguration()

	var stored bson.M
	err := r.collection.FindOne(ctx, bson.M{}).Decode(&stored)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, ierr := r.collection.InsertOne(ctx, defaults); ierr != nil {
			return fmt.Errorf("failed to insert default configuration: %w", ierr)
		}
		logging.Info("Inserted default configuration document")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	reconciled := bson.M{}
	changed := false
	for key, def := range defaults {
		if val, ok := stored[key]; ok {
			reconciled[key] = val
		} else {
			reconciled[key] = def
			changed = true
		}
	}
	for key := range stored {
		if key == "_id" {
			continue
		}
		if _, known := defaults[key]; !known {
			changed = true
		}
	}

	if !changed {
		return nil
	}

	if _, err := r.collection.ReplaceOne(ctx, bson.M{"_id": stored["_id"]}, reconciled); err != nil {
		return fmt.Errorf("failed to reconcile configuration: %w", err)
	}
	logging.Info("Reconciled configuration schema", "keys", len(reconciled))
	return nil
}
