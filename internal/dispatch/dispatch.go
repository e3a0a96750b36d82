package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"osprey-eyes/mindseye/internal/httpclient"
	"osprey-eyes/mindseye/internal/logging"
	"osprey-eyes/mindseye/internal/metrics"
)

// Event categories forwarded to the notification front end. Each maps
// to a path on the webhook receiver.
const (
	CategoryNewAccount     = "new-account"
	CategoryCallsignChange = "callsign-change"
	CategoryAircraftChange = "aircraft-change"
	CategoryBotMention     = "bot-mention"
)

// Payload is one event's webhook body. Batches are shipped as a JSON
// array of these.
type Payload map[string]interface{}

// Options tunes the per-category queues and workers.
type Options struct {
	BatchSize     int
	FlushTimeout  time.Duration
	RatePerSec    float64
	QueueCapacity int
	DrainTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize == 0 {
		o.BatchSize = 20
	}
	if o.FlushTimeout == 0 {
		o.FlushTimeout = 10 * time.Second
	}
	if o.RatePerSec == 0 {
		o.RatePerSec = 5
	}
	if o.QueueCapacity == 0 {
		o.QueueCapacity = 4096
	}
	if o.DrainTimeout == 0 {
		o.DrainTimeout = 15 * time.Second
	}
	return o
}

// Set owns one queue and one worker per event category. Producers only
// enqueue; delivery failures never propagate back to the polling loop.
type Set struct {
	queues map[string]*queue
	log    *zap.SugaredLogger
}

// NewSet builds queues for all categories against the webhook
// receiver's base URL. reg may be nil in tests.
func NewSet(client *httpclient.Client, baseURL string, opts Options, reg *metrics.Registry) *Set {
	opts = opts.withDefaults()
	categories := []string{
		CategoryNewAccount,
		CategoryCallsignChange,
		CategoryAircraftChange,
		CategoryBotMention,
	}

	queues := make(map[string]*queue, len(categories))
	for _, category := range categories {
		queues[category] = &queue{
			category: category,
			url:      baseURL + "/" + category,
			ch:       make(chan Payload, opts.QueueCapacity),
			client:   client,
			limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), 1),
			opts:     opts,
			log:      logging.WithComponent("dispatch:" + category),
			reg:      reg,
		}
	}

	return &Set{
		queues: queues,
		log:    logging.WithComponent("dispatch"),
	}
}

// Enqueue hands one payload to its category queue without blocking.
// Overflow drops the payload: notification delivery is best-effort and
// must never stall the polling cadence.
func (s *Set) Enqueue(category string, payload Payload) {
	q, ok := s.queues[category]
	if !ok {
		s.log.Errorw("Unknown dispatch category", "category", category)
		return
	}

	select {
	case q.ch <- payload:
		if q.reg != nil {
			q.reg.DispatchQueueDepth.WithLabelValues(category).Set(float64(len(q.ch)))
		}
	default:
		q.log.Warnw("Queue full, dropping payload")
		if q.reg != nil {
			q.reg.DispatchDroppedTotal.WithLabelValues(category).Inc()
		}
	}
}

// Depth reports the pending count for a category, for the status
// endpoint.
func (s *Set) Depth(category string) int {
	if q, ok := s.queues[category]; ok {
		return len(q.ch)
	}
	return 0
}

// Run starts one worker per category and blocks until all of them have
// drained and exited after ctx is cancelled.
func (s *Set) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range s.queues {
		q := q
		g.Go(func() error {
			q.run(ctx)
			return nil
		})
	}
	return g.Wait()
}

type queue struct {
	category string
	url      string
	ch       chan Payload
	client   *httpclient.Client
	limiter  *rate.Limiter
	opts     Options
	log      *zap.SugaredLogger
	reg      *metrics.Registry
}

// run is the worker loop: accumulate a local batch, flush on size or
// timeout since the last flush. The ticker is reset on every flush so
// the timeout window always starts at the flush, not at worker start.
// Never exits on a send failure.
func (q *queue) run(ctx context.Context) {
	ticker := time.NewTicker(q.opts.FlushTimeout)
	defer ticker.Stop()

	var pending []Payload

	flush := func(flushCtx context.Context) {
		if len(pending) > 0 {
			q.send(flushCtx, pending)
			pending = nil
		}
		ticker.Reset(q.opts.FlushTimeout)
	}

	q.log.Infow("Worker started", "url", q.url)

	for {
		select {
		case payload := <-q.ch:
			pending = append(pending, payload)
			if q.reg != nil {
				q.reg.DispatchQueueDepth.WithLabelValues(q.category).Set(float64(len(q.ch)))
			}
			if len(pending) >= q.opts.BatchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)

		case <-ctx.Done():
			// Drain whatever producers managed to enqueue, then ship
			// the final batch on a fresh context.
			for {
				select {
				case payload := <-q.ch:
					pending = append(pending, payload)
					continue
				default:
				}
				break
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), q.opts.DrainTimeout)
			flush(drainCtx)
			cancel()
			q.log.Infow("Worker stopped")
			return
		}
	}
}

// send ships one batch as a single POST of the payload array. Failures
// are logged and the batch dropped; there is no retry beyond what the
// HTTP client itself does.
func (q *queue) send(ctx context.Context, batch []Payload) {
	if err := q.limiter.Wait(ctx); err != nil {
		q.log.Warnw("Rate limiter interrupted, dropping batch", "size", len(batch))
		if q.reg != nil {
			q.reg.DispatchBatchesTotal.WithLabelValues(q.category, "dropped").Inc()
		}
		return
	}

	batchID := uuid.NewString()
	_, err := q.client.PostJSON(ctx, q.url, batch)
	if err != nil {
		q.log.Errorw("Failed to deliver batch, dropping",
			"batch_id", batchID, "size", len(batch), "error", err.Error())
		if q.reg != nil {
			q.reg.DispatchBatchesTotal.WithLabelValues(q.category, "error").Inc()
			q.reg.DispatchDroppedTotal.WithLabelValues(q.category).Add(float64(len(batch)))
		}
		return
	}

	q.log.Debugw("Delivered batch", "batch_id", batchID, "size", len(batch))
	if q.reg != nil {
		q.reg.DispatchBatchesTotal.WithLabelValues(q.category, "ok").Inc()
	}
}
