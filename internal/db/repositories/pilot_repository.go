package repositories

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/models"
)

// PilotRepository owns the users collection: one record per distinct
// accountId with an append-only event log.
type PilotRepository struct {
	collection *mongo.Collection
}

func NewPilotRepository(database *mongo.Database) *PilotRepository {
	return &PilotRepository{collection: database.Collection("users")}
}

// EnsureIndexes creates the unique accountId index. Duplicate records
// from concurrent upserts predating the index are handled by
// CleanupDuplicates.
func (r *PilotRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "accountId", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create accountId index: %w", err)
	}
	return nil
}

// FindByAccountIDs loads the records for the given ids in one batched
// read, keyed by accountId.
func (r *PilotRepository) FindByAccountIDs(ctx context.Context, ids []string) (map[string]*models.PilotRecord, error) {
	result := make(map[string]*models.PilotRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	cursor, err := r.collection.Find(ctx, bson.M{"accountId": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("failed to query pilots: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var record models.PilotRecord
		if err := cursor.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode pilot record: %w", err)
		}
		result[record.AccountID] = &record
	}
	return result, cursor.Err()
}

// FindOnline returns all records currently marked online, for offline
// detection against the latest snapshot.
func (r *PilotRepository) FindOnline(ctx context.Context) ([]models.PilotRecord, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"online": true})
	if err != nil {
		return nil, fmt.Errorf("failed to query online pilots: %w", err)
	}
	defer cursor.Close(ctx)

	var records []models.PilotRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode online pilots: %w", err)
	}
	return records, nil
}

// WriteBulk submits accumulated write models as one unordered bulk
// write. This is the sink behind the write buffer.
func (r *PilotRepository) WriteBulk(ctx context.Context, writes []mongo.WriteModel) error {
	if len(writes) == 0 {
		return nil
	}
	_, err := r.collection.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	return err
}

// CleanupDuplicates reconciles records sharing an accountId: duplicates
// with no events are deleted, keeping the oldest record of each group.
// Records that accumulated events are never deleted.
func (r *PilotRepository) CleanupDuplicates(ctx context.Context) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$accountId",
			"count": bson.M{"$sum": 1},
		}}},
		{{Key: "$match", Value: bson.M{"count": bson.M{"$gt": 1}}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to find duplicate accountIds: %w", err)
	}

	var groups []struct {
		AccountID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &groups); err != nil {
		return 0, fmt.Errorf("failed to decode duplicate groups: %w", err)
	}

	deleted := 0
	for _, group := range groups {
		n, err := r.cleanupGroup(ctx, group.AccountID)
		if err != nil {
			logging.Warn("Failed to clean duplicate group", "accountId", group.AccountID, "error", err.Error())
			continue
		}
		deleted += n
	}
	return deleted, nil
}

func (r *PilotRepository) cleanupGroup(ctx context.Context, accountID string) (int, error) {
	cursor, err := r.collection.Find(ctx, bson.M{"accountId": accountID})
	if err != nil {
		return 0, err
	}

	var records []models.PilotRecord
	if err := cursor.All(ctx, &records); err != nil {
		return 0, err
	}

	remove := removableDuplicates(records)
	if len(remove) == 0 {
		return 0, nil
	}

	result, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": remove}})
	if err != nil {
		return 0, err
	}
	return int(result.DeletedCount), nil
}

// removableDuplicates picks the _ids safe to delete from a group of
// records sharing one accountId. Records that accumulated events are
// always kept; when every record is empty the oldest survives.
func removableDuplicates(records []models.PilotRecord) []interface{} {
	if len(records) < 2 {
		return nil
	}

	// ObjectIDs embed their creation time; oldest first
	sort.Slice(records, func(i, j int) bool {
		return records[i].ID.Timestamp().Before(records[j].ID.Timestamp())
	})

	allEmpty := !anyWithEvents(records)
	var remove []interface{}
	for i, record := range records {
		if len(record.Events) > 0 {
			continue
		}
		if i == 0 && allEmpty {
			continue
		}
		remove = append(remove, record.ID)
	}
	return remove
}

func anyWithEvents(records []models.PilotRecord) bool {
	for _, r := range records {
		if len(r.Events) > 0 {
			return true
		}
	}
	return false
}
