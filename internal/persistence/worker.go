package persistence

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"MarginVault/internal/observability"
)

// Worker drains applied-instruction entries from a channel and writes them
// to Postgres in batches, flushing on size or interval.
type Worker struct {
	writer        *Writer
	in            <-chan Entry
	batchSize     int
	flushInterval time.Duration
	log           zerolog.Logger
	metrics       *observability.Metrics
}

func NewWorker(writer *Writer, in <-chan Entry, batchSize int, flushInterval time.Duration, log zerolog.Logger, metrics *observability.Metrics) *Worker {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 200 * time.Millisecond
	}
	return &Worker{
		writer:        writer,
		in:            in,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		log:           log,
		metrics:       metrics,
	}
}

// Run blocks until ctx is cancelled, then flushes what remains.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	var pending []Entry
	flush := func() {
		if len(pending) == 0 {
			return
		}
		start := time.Now()
		if err := w.writer.WriteEntries(context.Background(), pending); err != nil {
			w.log.Error().Err(err).Int("entries", len(pending)).Msg("persist batch failed")
			if w.metrics != nil {
				w.metrics.PersistErrors.Inc()
			}
			// Entries stay pending; the next flush retries the same batch.
			// Inserts are conflict-ignoring, so partial progress is safe.
			return
		}
		if w.metrics != nil {
			w.metrics.PersistDuration.Observe(time.Since(start).Seconds())
		}
		pending = pending[:0]
	}

	for {
		select {
		case entry, ok := <-w.in:
			if !ok {
				flush()
				return
			}
			pending = append(pending, entry)
			if len(pending) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case entry := <-w.in:
					pending = append(pending, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}
