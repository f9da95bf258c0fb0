// Package transcript orders and batches conversation transcript segments
// for durable storage.
package transcript

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ACSHKESL2020/acseventgridpstn-api/internal/metrics"
)

// Speaker identifies which side of the conversation produced a segment.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Segment is a single transcript fragment. Seq is zero until a flush
// assigns it a position in the session's total order.
type Segment struct {
	Text       string
	Speaker    Speaker
	StartMS    int64
	EndMS      int64
	Confidence float64
	Seq        int64
}

// Store persists ordered segments. ReserveSequences must be atomic
// increment-and-read so that concurrent flushes (including flushes from
// other processes) cannot interleave within a reserved range.
type Store interface {
	// ReserveSequences advances the session's sequence counter by n and
	// returns the new counter value (the last sequence in the range).
	ReserveSequences(ctx context.Context, sessionID string, n int) (int64, error)

	// AppendSegments appends a batch to the session's ordered segment list.
	// Implementations must be idempotent per (sessionID, seq) so that a
	// retried batch cannot duplicate rows.
	AppendSegments(ctx context.Context, sessionID string, segs []Segment) error
}

// Config tunes batching behavior.
type Config struct {
	// MaxBatchSize triggers an immediate flush when the buffer reaches it.
	MaxBatchSize int

	// FlushDelay is the debounce window: a flush runs after this much
	// push inactivity, not on a fixed interval.
	FlushDelay time.Duration
}

// DefaultConfig returns batching defaults.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 20,
		FlushDelay:   2 * time.Second,
	}
}

// Batcher buffers one session's transcript segments and flushes them in
// sequence-numbered batches. Push is cheap and non-blocking; store I/O
// happens on flush. Safe for use from one pusher plus the internal
// debounce timer.
type Batcher struct {
	sessionID string
	store     Store
	logger    *slog.Logger
	cfg       Config

	mu     sync.Mutex
	buf    []Segment
	timer  *time.Timer
	closed bool

	// flushMu serializes flushes so reserved ranges are assigned in
	// buffer order.
	flushMu sync.Mutex
}

// NewBatcher creates a batcher for one session.
func NewBatcher(sessionID string, store Store, cfg Config, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultConfig().MaxBatchSize
	}
	if cfg.FlushDelay <= 0 {
		cfg.FlushDelay = DefaultConfig().FlushDelay
	}
	return &Batcher{
		sessionID: sessionID,
		store:     store,
		logger:    logger,
		cfg:       cfg,
	}
}

// Push appends a segment to the buffer. It flushes immediately when the
// buffer reaches MaxBatchSize, otherwise (re)arms the debounce timer.
func (b *Batcher) Push(seg Segment) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.Warn("transcript push after close, segment dropped", "session_id", b.sessionID)
		return
	}
	b.buf = append(b.buf, seg)
	full := len(b.buf) >= b.cfg.MaxBatchSize
	if full {
		if b.timer != nil {
			b.timer.Stop()
		}
	} else {
		if b.timer == nil {
			b.timer = time.AfterFunc(b.cfg.FlushDelay, b.flushFromTimer)
		} else {
			b.timer.Reset(b.cfg.FlushDelay)
		}
	}
	b.mu.Unlock()

	if full {
		if err := b.Flush(context.Background()); err != nil {
			b.logger.Warn("transcript flush failed, batch re-queued", "session_id", b.sessionID, "error", err)
		}
	}
}

func (b *Batcher) flushFromTimer() {
	if err := b.Flush(context.Background()); err != nil {
		b.logger.Warn("transcript flush failed, batch re-queued", "session_id", b.sessionID, "error", err)
	}
}

// Flush persists the buffered segments. Sequence numbers are reserved in
// one atomic store call and assigned in push order. On failure the batch
// goes back to the front of the buffer; segments that already carry a
// sequence keep it, so a retried append cannot reorder or renumber them.
func (b *Batcher) Flush(ctx context.Context) error {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return nil
	}
	batch := b.buf
	b.buf = nil
	b.mu.Unlock()

	unassigned := 0
	for i := range batch {
		if batch[i].Seq == 0 {
			unassigned++
		}
	}
	if unassigned > 0 {
		last, err := b.store.ReserveSequences(ctx, b.sessionID, unassigned)
		if err != nil {
			b.requeue(batch)
			metrics.TranscriptFlushes.WithLabelValues("error").Inc()
			return fmt.Errorf("reserve %d sequences: %w", unassigned, err)
		}
		next := last - int64(unassigned) + 1
		for i := range batch {
			if batch[i].Seq == 0 {
				batch[i].Seq = next
				next++
			}
		}
	}

	if err := b.store.AppendSegments(ctx, b.sessionID, batch); err != nil {
		b.requeue(batch)
		metrics.TranscriptFlushes.WithLabelValues("error").Inc()
		return fmt.Errorf("append %d segments: %w", len(batch), err)
	}
	metrics.TranscriptFlushes.WithLabelValues("ok").Inc()
	return nil
}

// requeue puts a failed batch back at the front of the buffer so the next
// trigger retries it before anything pushed later.
func (b *Batcher) requeue(batch []Segment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(batch, b.buf...)
	if !b.closed {
		if b.timer == nil {
			b.timer = time.AfterFunc(b.cfg.FlushDelay, b.flushFromTimer)
		} else {
			b.timer.Reset(b.cfg.FlushDelay)
		}
	}
}

// Close stops the debounce timer and performs a final synchronous flush.
// Further pushes are dropped.
func (b *Batcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()
	return b.Flush(ctx)
}

// Pending returns the number of buffered, unflushed segments.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}
