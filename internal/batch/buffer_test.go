package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type recordingSink struct {
	batches [][]mongo.WriteModel
	err     error
}

func (s *recordingSink) WriteBulk(ctx context.Context, writes []mongo.WriteModel) error {
	batch := make([]mongo.WriteModel, len(writes))
	copy(batch, writes)
	s.batches = append(s.batches, batch)
	return s.err
}

func newModel(id string) mongo.WriteModel {
	return mongo.NewUpdateOneModel().
		SetFilter(bson.M{"accountId": id}).
		SetUpdate(bson.M{"$set": bson.M{"online": true}})
}

func TestBuffer_FlushesAtBatchSize(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer("test", sink, 3, time.Hour, nil)
	ctx := context.Background()

	b.Add(ctx, newModel("1"))
	b.Add(ctx, newModel("2"))
	if len(sink.batches) != 0 {
		t.Fatalf("Expected no flush below batch size, got %d", len(sink.batches))
	}
	if b.Len() != 2 {
		t.Errorf("Expected 2 pending writes, got %d", b.Len())
	}

	b.Add(ctx, newModel("3"))
	if len(sink.batches) != 1 {
		t.Fatalf("Expected 1 flush at batch size, got %d", len(sink.batches))
	}
	if len(sink.batches[0]) != 3 {
		t.Errorf("Expected 3 writes in batch, got %d", len(sink.batches[0]))
	}
	if b.Len() != 0 {
		t.Errorf("Expected buffer cleared after flush, got %d pending", b.Len())
	}
}

func TestBuffer_FlushesAfterInterval(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer("test", sink, 100, 10*time.Millisecond, nil)
	ctx := context.Background()

	b.Add(ctx, newModel("1"))
	if len(sink.batches) != 0 {
		t.Fatal("Expected no flush immediately after first add")
	}

	time.Sleep(20 * time.Millisecond)
	b.Add(ctx, newModel("2"))
	if len(sink.batches) != 1 {
		t.Fatalf("Expected interval flush, got %d batches", len(sink.batches))
	}
	if len(sink.batches[0]) != 2 {
		t.Errorf("Expected both writes flushed, got %d", len(sink.batches[0]))
	}
}

func TestBuffer_FlushEmptyIsNoop(t *testing.T) {
	sink := &recordingSink{}
	b := NewBuffer("test", sink, 10, time.Hour, nil)

	b.Flush(context.Background())
	if len(sink.batches) != 0 {
		t.Errorf("Expected no sink call for empty buffer, got %d", len(sink.batches))
	}
}

func TestBuffer_ErrorDropsBatch(t *testing.T) {
	sink := &recordingSink{err: errors.New("connection reset")}
	b := NewBuffer("test", sink, 10, time.Hour, nil)
	ctx := context.Background()

	b.Add(ctx, newModel("1"))
	b.Flush(ctx)

	if b.Len() != 0 {
		t.Errorf("Expected buffer cleared after failed flush, got %d pending", b.Len())
	}

	// Subsequent writes are not blocked by the earlier failure
	sink.err = nil
	b.Add(ctx, newModel("2"))
	b.Flush(ctx)
	if len(sink.batches) != 2 {
		t.Fatalf("Expected 2 sink calls, got %d", len(sink.batches))
	}
	if len(sink.batches[1]) != 1 {
		t.Errorf("Expected only the new write in the retry batch, got %d", len(sink.batches[1]))
	}
}
