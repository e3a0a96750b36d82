package batch

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/metrics"
)

// Sink receives the accumulated write models as one unordered bulk
// write.
type Sink interface {
	WriteBulk(ctx context.Context, writes []mongo.WriteModel) error
}

// Buffer coalesces persistence mutations and flushes them by size or
// time threshold. Flush failures are logged and the batch discarded:
// writes are best-effort at-most-once, and the next cycle's diff will
// simply treat the lost mutations as unchanged state.
//
// Not safe for concurrent use; each Buffer has a single writer.
type Buffer struct {
	name          string
	sink          Sink
	batchSize     int
	flushInterval time.Duration

	pending   []mongo.WriteModel
	lastFlush time.Time

	log *zap.SugaredLogger
	reg *metrics.Registry
}

// NewBuffer creates a buffer flushing at batchSize pending writes or
// flushInterval since the previous flush, whichever comes first. reg
// may be nil.
func NewBuffer(name string, sink Sink, batchSize int, flushInterval time.Duration, reg *metrics.Registry) *Buffer {
	return &Buffer{
		name:          name,
		sink:          sink,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		lastFlush:     time.Now(),
		log:           logging.WithComponent("batch:" + name),
		reg:           reg,
	}
}

// Add appends one mutation and flushes if either threshold is hit.
func (b *Buffer) Add(ctx context.Context, op mongo.WriteModel) {
	b.pending = append(b.pending, op)
	if len(b.pending) >= b.batchSize || time.Since(b.lastFlush) >= b.flushInterval {
		b.Flush(ctx)
	}
}

// Len reports the number of pending writes.
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Flush submits all pending writes as one bulk call and clears the
// buffer regardless of outcome. A buffer with nothing pending sends
// nothing.
func (b *Buffer) Flush(ctx context.Context) {
	if len(b.pending) == 0 {
		b.lastFlush = time.Now()
		return
	}

	size := len(b.pending)
	err := b.sink.WriteBulk(ctx, b.pending)
	if err != nil {
		b.log.Errorw("Bulk write failed, dropping batch", "size", size, "error", err.Error())
		if b.reg != nil {
			b.reg.BufferFlushesTotal.WithLabelValues("error").Inc()
		}
	} else if b.reg != nil {
		b.reg.BufferFlushesTotal.WithLabelValues("ok").Inc()
		b.reg.BufferFlushSize.Observe(float64(size))
	}

	b.pending = b.pending[:0]
	b.lastFlush = time.Now()
}
