// Package usagelog implements a non-blocking, batched usage logger.
//
// Entries are written to an internal buffered channel and flushed in
// batches by a background goroutine, so recording usage never blocks the
// routing hot path. If the channel fills up (> 10 000 entries), new entries
// are dropped and counted in DroppedLogs. A slog sink is always active;
// an optional ClickHouse sink is added when CLICKHOUSE_DSN is configured.
package usagelog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	channelBuffer = 10_000
	batchSize     = 100
	flushInterval = time.Second
)

// Entry records one completed request for analytics and billing.
type Entry struct {
	ID           uuid.UUID
	Provider     string
	Model        string
	Tier         string
	UserID       string
	InputTokens  uint32
	OutputTokens uint32
	LatencyMs    uint32
	StatusCode   uint16
	CreatedAt    time.Time
}

// Sink receives flushed batches of Entry. Implementations must not block
// indefinitely — the logger's flush goroutine waits on Write to return.
type Sink interface {
	Write(ctx context.Context, batch []Entry) error
	Close() error
}

// Logger batches Entry values and fans each batch out to every configured
// Sink.
type Logger struct {
	ch        chan Entry
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	droppedLogs int64

	baseCtx context.Context
	log     *slog.Logger
	sinks   []Sink
}

// New starts the background flush loop. sinks may be empty, in which case
// entries are accepted and dropped silently on flush.
func New(ctx context.Context, slogger *slog.Logger, sinks ...Sink) (*Logger, error) {
	if ctx == nil {
		return nil, fmt.Errorf("usagelog: context must not be nil")
	}
	if slogger == nil {
		slogger = slog.Default()
	}

	l := &Logger{
		ch:      make(chan Entry, channelBuffer),
		done:    make(chan struct{}),
		baseCtx: ctx,
		log:     slogger,
		sinks:   sinks,
	}

	l.wg.Add(1)
	go l.run()

	return l, nil
}

// Log enqueues entry for asynchronous recording. Non-blocking: a full
// channel drops the entry and increments DroppedLogs.
func (l *Logger) Log(entry Entry) {
	select {
	case l.ch <- entry:
	default:
		atomic.AddInt64(&l.droppedLogs, 1)
	}
}

func (l *Logger) DroppedLogs() int64 {
	return atomic.LoadInt64(&l.droppedLogs)
}

// Close stops the flush loop, flushing anything still buffered, and closes
// every configured sink. Safe to call more than once.
func (l *Logger) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()

	var firstErr error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Logger) run() {
	defer l.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, batchSize)

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		for _, s := range l.sinks {
			if err := s.Write(ctx, batch); err != nil {
				l.log.ErrorContext(ctx, "usagelog sink write failed", slog.String("error", err.Error()))
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-l.ch:
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				flush(l.baseCtx)
			}

		case <-ticker.C:
			flush(l.baseCtx)

		case <-l.done:
			for {
				select {
				case entry := <-l.ch:
					batch = append(batch, entry)
					if len(batch) >= batchSize {
						flush(l.baseCtx)
					}
				default:
					flush(l.baseCtx)
					return
				}
			}
		}
	}
}
