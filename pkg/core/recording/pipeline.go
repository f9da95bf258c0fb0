// Package recording captures the mixed call audio for a session through a
// backpressured streaming-encoder pipeline and finalizes it into a single
// artifact file.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrNotStarted is returned by Write for a session with no active recorder.
var ErrNotStarted = errors.New("recording not started for session")

// Artifact is the finalized encoded recording for one session. ContentHash
// and UploadedURL are filled in by the upload step, not by the pipeline.
type Artifact struct {
	SessionID   string
	Path        string
	SizeBytes   int64
	ContentHash string
	UploadedURL string
}

// Config tunes the pipeline.
type Config struct {
	// Dir is the working area root; each session gets a subdirectory.
	Dir string

	// MinArtifactBytes filters out accidental empty sessions: artifacts
	// smaller than this are deleted and Stop reports no artifact.
	MinArtifactBytes int64

	// StopTimeout bounds the wait for encoder shutdown; on overrun the
	// encoder is killed and whatever was flushed so far is used.
	StopTimeout time.Duration
}

// DefaultConfig returns pipeline defaults.
func DefaultConfig() Config {
	return Config{
		Dir:              os.TempDir(),
		MinArtifactBytes: 1024,
		StopTimeout:      5 * time.Second,
	}
}

// Pipeline manages per-session recorders. Each session has a FIFO chunk
// queue consumed by a single drain goroutine, so byte order is preserved
// even when the encoder sink blocks. Producers never block on encoder
// backpressure; they only append to the queue.
type Pipeline struct {
	cfg        Config
	newEncoder EncoderFactory
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*recorder
}

// NewPipeline creates a pipeline using the given encoder factory.
func NewPipeline(cfg Config, newEncoder EncoderFactory, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		cfg.Dir = DefaultConfig().Dir
	}
	if cfg.MinArtifactBytes <= 0 {
		cfg.MinArtifactBytes = DefaultConfig().MinArtifactBytes
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultConfig().StopTimeout
	}
	return &Pipeline{
		cfg:        cfg,
		newEncoder: newEncoder,
		logger:     logger,
		sessions:   make(map[string]*recorder),
	}
}

type recorder struct {
	id   string
	dir  string
	dst  string
	enc  Encoder
	sink interface {
		Write(p []byte) (int, error)
		Close() error
	}

	mu      sync.Mutex
	cond    *sync.Cond
	queue   [][]byte
	written int64
	closing bool

	drainDone chan struct{}
	drainErr  error
}

// Start allocates a working area and spawns the encoder for a session.
// Calling it again for an already-started session is a no-op.
func (p *Pipeline) Start(sessionID string) error {
	p.mu.Lock()
	if _, ok := p.sessions[sessionID]; ok {
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	dir := filepath.Join(p.cfg.Dir, "rec-"+sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create working area: %w", err)
	}

	enc := p.newEncoder()
	dst := filepath.Join(dir, sessionID+enc.Ext())
	sink, err := enc.Start(context.Background(), dst)
	if err != nil {
		_ = os.RemoveAll(dir)
		return fmt.Errorf("start encoder: %w", err)
	}

	r := &recorder{
		id:        sessionID,
		dir:       dir,
		dst:       dst,
		enc:       enc,
		sink:      sink,
		drainDone: make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	p.mu.Lock()
	if _, ok := p.sessions[sessionID]; ok {
		// Lost a start race; keep the existing recorder.
		p.mu.Unlock()
		_ = sink.Close()
		_ = enc.Kill()
		_ = os.RemoveAll(dir)
		return nil
	}
	p.sessions[sessionID] = r
	p.mu.Unlock()

	go r.drain(p.logger)
	p.logger.Info("recording started", "session_id", sessionID, "dir", dir)
	return nil
}

// Write appends raw PCM to the session's queue. It returns ErrNotStarted
// when Start has not been called. Encoder backpressure never blocks here.
func (p *Pipeline) Write(sessionID string, pcm []byte) error {
	p.mu.Lock()
	r, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return ErrNotStarted
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closing {
		return nil
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	r.queue = append(r.queue, buf)
	r.written += int64(len(buf))
	r.cond.Signal()
	return nil
}

// drain is the single in-order consumer of the session queue. A blocked
// sink write suspends only this goroutine; producers keep enqueueing.
func (r *recorder) drain(logger *slog.Logger) {
	defer close(r.drainDone)
	for {
		r.mu.Lock()
		for len(r.queue) == 0 && !r.closing {
			r.cond.Wait()
		}
		if len(r.queue) == 0 && r.closing {
			r.mu.Unlock()
			break
		}
		chunk := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()

		if _, err := r.sink.Write(chunk); err != nil {
			r.drainErr = err
			logger.Warn("encoder sink write failed, recording truncated", "session_id", r.id, "error", err)
			break
		}
	}
	if err := r.sink.Close(); err != nil && r.drainErr == nil {
		r.drainErr = err
	}
}

// Stop signals end-of-input, awaits encoder termination (bounded by
// StopTimeout, killing on overrun), and inspects the artifact. Artifacts
// below MinArtifactBytes are deleted and (nil, nil) is returned.
func (p *Pipeline) Stop(ctx context.Context, sessionID string) (*Artifact, error) {
	p.mu.Lock()
	r, ok := p.sessions[sessionID]
	if ok {
		delete(p.sessions, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return nil, nil
	}

	r.mu.Lock()
	r.closing = true
	r.cond.Broadcast()
	r.mu.Unlock()

	deadline := time.NewTimer(p.cfg.StopTimeout)
	defer deadline.Stop()
	select {
	case <-r.drainDone:
	case <-deadline.C:
		p.logger.Warn("recording drain did not finish in time, force-finalizing", "session_id", sessionID)
		_ = r.enc.Kill()
	case <-ctx.Done():
		_ = r.enc.Kill()
	}

	encErr := make(chan error, 1)
	go func() { encErr <- r.enc.Wait() }()
	waitDeadline := time.NewTimer(p.cfg.StopTimeout)
	defer waitDeadline.Stop()
	select {
	case err := <-encErr:
		if err != nil {
			p.logger.Warn("encoder exited with error", "session_id", sessionID, "error", err)
		}
	case <-waitDeadline.C:
		p.logger.Warn("encoder shutdown timed out, killing", "session_id", sessionID)
		_ = r.enc.Kill()
		<-encErr
	}

	info, err := os.Stat(r.dst)
	if err != nil {
		p.Cleanup(sessionID)
		return nil, fmt.Errorf("inspect artifact: %w", err)
	}
	if info.Size() < p.cfg.MinArtifactBytes {
		p.logger.Info("recording below minimum size, discarding",
			"session_id", sessionID, "size_bytes", info.Size(), "min_bytes", p.cfg.MinArtifactBytes)
		_ = os.RemoveAll(r.dir)
		return nil, nil
	}

	return &Artifact{
		SessionID: sessionID,
		Path:      r.dst,
		SizeBytes: info.Size(),
	}, nil
}

// Cleanup removes any residual working-area files for a session. Safe to
// call when nothing exists.
func (p *Pipeline) Cleanup(sessionID string) {
	dir := filepath.Join(p.cfg.Dir, "rec-"+sessionID)
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("recording cleanup failed", "session_id", sessionID, "error", err)
	}
}

// Written returns the total bytes accepted for a session so far.
func (p *Pipeline) Written(sessionID string) int64 {
	p.mu.Lock()
	r, ok := p.sessions[sessionID]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}
