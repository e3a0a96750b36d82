package repositories

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"osprey-eyes/mindseye/internal/geofs"
	"osprey-eyes/mindseye/internal/models"
)

// TelemetryRepository owns the append-only telemetry collections:
// chat_messages, player_locations, online_player_count and aircraft.
type TelemetryRepository struct {
	chatMessages    *mongo.Collection
	playerLocations *mongo.Collection
	onlineCount     *mongo.Collection
	aircraft        *mongo.Collection
}

func NewTelemetryRepository(database *mongo.Database) *TelemetryRepository {
	return &TelemetryRepository{
		chatMessages:    database.Collection("chat_messages"),
		playerLocations: database.Collection("player_locations"),
		onlineCount:     database.Collection("online_player_count"),
		aircraft:        database.Collection("aircraft"),
	}
}

// InsertChatMessages stores a fetched batch of decoded chat lines.
func (r *TelemetryRepository) InsertChatMessages(ctx context.Context, messages []geofs.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	docs := make([]interface{}, len(messages))
	for i, m := range messages {
		docs[i] = m
	}
	if _, err := r.chatMessages.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert chat messages: %w", err)
	}
	return nil
}

// InsertLocationSnapshot stores one point per currently-online pilot.
// Field names match what the heatmap renderer reads.
func (r *TelemetryRepository) InsertLocationSnapshot(ctx context.Context, points []models.GeoPoint) error {
	if len(points) == 0 {
		return nil
	}
	docs := make([]interface{}, len(points))
	for i, p := range points {
		docs[i] = bson.M{"latitude": p.Lat, "longitude": p.Lon}
	}
	if _, err := r.playerLocations.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert location snapshot: %w", err)
	}
	return nil
}

// InsertOnlineCount stores an hourly online-pilot count sample.
func (r *TelemetryRepository) InsertOnlineCount(ctx context.Context, count int, at time.Time) error {
	_, err := r.onlineCount.InsertOne(ctx, bson.M{"count": count, "timestamp": at})
	if err != nil {
		return fmt.Errorf("failed to insert online count: %w", err)
	}
	return nil
}

// InsertAircraftDistribution stores one aircraft-type tally snapshot.
func (r *TelemetryRepository) InsertAircraftDistribution(ctx context.Context, distribution map[string]int, at time.Time) error {
	if len(distribution) == 0 {
		return nil
	}
	_, err := r.aircraft.InsertOne(ctx, bson.M{"distribution": distribution, "timestamp": at})
	if err != nil {
		return fmt.Errorf("failed to insert aircraft distribution: %w", err)
	}
	return nil
}
