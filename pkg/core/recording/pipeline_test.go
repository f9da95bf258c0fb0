package recording

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"
)

// rawEncoder writes PCM straight to the destination file, optionally
// sleeping per write to simulate a backpressuring encoder.
type rawEncoder struct {
	writeDelay time.Duration

	mu   sync.Mutex
	f    *os.File
	done chan struct{}
}

type rawSink struct {
	enc *rawEncoder
}

func (s *rawSink) Write(p []byte) (int, error) {
	if s.enc.writeDelay > 0 {
		time.Sleep(s.enc.writeDelay)
	}
	s.enc.mu.Lock()
	defer s.enc.mu.Unlock()
	if s.enc.f == nil {
		return 0, errors.New("sink closed")
	}
	return s.enc.f.Write(p)
}

func (s *rawSink) Close() error {
	s.enc.mu.Lock()
	defer s.enc.mu.Unlock()
	if s.enc.f == nil {
		return nil
	}
	err := s.enc.f.Close()
	s.enc.f = nil
	close(s.enc.done)
	return err
}

func (e *rawEncoder) Start(_ context.Context, dst string) (io.WriteCloser, error) {
	f, err := os.Create(dst)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.f = f
	e.done = make(chan struct{})
	e.mu.Unlock()
	return &rawSink{enc: e}, nil
}

func (e *rawEncoder) Wait() error {
	<-e.done
	return nil
}

func (e *rawEncoder) Kill() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.f != nil {
		e.f.Close()
		e.f = nil
		close(e.done)
	}
	return nil
}

func (e *rawEncoder) Ext() string { return ".pcm" }

func newTestPipeline(t *testing.T, minBytes int64, writeDelay time.Duration) *Pipeline {
	t.Helper()
	return NewPipeline(Config{
		Dir:              t.TempDir(),
		MinArtifactBytes: minBytes,
		StopTimeout:      2 * time.Second,
	}, func() Encoder { return &rawEncoder{writeDelay: writeDelay} }, nil)
}

func TestPipeline_WriteBeforeStart(t *testing.T) {
	p := newTestPipeline(t, 1, 0)

	err := p.Write("s1", []byte{1, 2, 3})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("Expected ErrNotStarted, got %v", err)
	}
}

func TestPipeline_StartIsIdempotent(t *testing.T) {
	p := newTestPipeline(t, 1, 0)

	if err := p.Start("s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Start("s1"); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	if err := p.Write("s1", []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	art, err := p.Stop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if art == nil || art.SizeBytes != 5 {
		t.Errorf("Expected 5-byte artifact, got %+v", art)
	}
}

// Chunks must land in the artifact in write order even when the encoder
// sink is slow, and producers must not be blocked by that slowness.
func TestPipeline_OrderPreservedUnderSlowSink(t *testing.T) {
	p := newTestPipeline(t, 1, 2*time.Millisecond)

	if err := p.Start("s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var want bytes.Buffer
	writeStart := time.Now()
	for i := 0; i < 50; i++ {
		chunk := []byte{byte(i), byte(i + 1)}
		want.Write(chunk)
		if err := p.Write("s1", chunk); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}
	// 50 writes against a 2ms-per-chunk sink: enqueue must return long
	// before the sink could have drained everything.
	if elapsed := time.Since(writeStart); elapsed > 50*time.Millisecond {
		t.Errorf("Writes blocked on the sink, took %v", elapsed)
	}

	art, err := p.Stop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if art == nil {
		t.Fatal("Expected artifact")
	}

	got, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Errorf("Artifact bytes out of order: got %d bytes, want %d", len(got), want.Len())
	}
}

func TestPipeline_BelowThresholdDiscarded(t *testing.T) {
	p := newTestPipeline(t, 1024, 0)

	if err := p.Start("s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Write("s1", []byte("tiny")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	art, err := p.Stop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if art != nil {
		t.Errorf("Expected sub-threshold recording discarded, got %+v", art)
	}
}

func TestPipeline_StopUnknownSession(t *testing.T) {
	p := newTestPipeline(t, 1, 0)

	art, err := p.Stop(context.Background(), "nope")
	if err != nil {
		t.Errorf("Expected nil error for unknown session, got %v", err)
	}
	if art != nil {
		t.Errorf("Expected no artifact for unknown session, got %+v", art)
	}
}

func TestPipeline_WrittenTracksBytes(t *testing.T) {
	p := newTestPipeline(t, 1, 0)

	if err := p.Start("s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Write("s1", make([]byte, 100))
	p.Write("s1", make([]byte, 50))

	if got := p.Written("s1"); got != 150 {
		t.Errorf("Expected 150 bytes written, got %d", got)
	}
	p.Stop(context.Background(), "s1")
}

func TestPipeline_CleanupRemovesWorkingArea(t *testing.T) {
	p := newTestPipeline(t, 1, 0)

	if err := p.Start("s1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p.Write("s1", []byte("data"))
	art, err := p.Stop(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if art == nil {
		t.Fatal("Expected artifact")
	}

	p.Cleanup("s1")
	if _, err := os.Stat(art.Path); !os.IsNotExist(err) {
		t.Error("Expected artifact removed by cleanup")
	}
}
