package acs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

type fakeWS struct {
	mu     sync.Mutex
	frames [][]byte
	gate   chan struct{} // when non-nil, each write waits for a tick
}

func (f *fakeWS) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeWS) WriteMessage(_ int, data []byte) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.frames = append(f.frames, cp)
	return nil
}

func (f *fakeWS) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeWS) Close() error                              { return nil }

func (f *fakeWS) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.frames))
	for _, raw := range f.frames {
		var env struct {
			Kind string `json:"Kind"`
		}
		json.Unmarshal(raw, &env)
		out = append(out, env.Kind)
	}
	return out
}

func TestWriter_StopAudioPreemptsQueuedAudio(t *testing.T) {
	ws := &fakeWS{gate: make(chan struct{})}
	w := NewWriter(ws, WriterConfig{PingInterval: time.Hour, WriteTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	// Queue several audio frames; the gated socket holds the first write so
	// the rest stack up behind it.
	for i := 0; i < 5; i++ {
		if err := w.SendAudio([]byte{byte(i)}); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := w.SendStopAudio(); err != nil {
		t.Fatalf("SendStopAudio: %v", err)
	}

	// Release all writes.
	go func() {
		for i := 0; i < 10; i++ {
			select {
			case ws.gate <- struct{}{}:
			case <-time.After(time.Second):
				return
			}
		}
	}()

	deadline := time.After(2 * time.Second)
	for {
		kinds := ws.kinds()
		if len(kinds) >= 6 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("writer did not drain, wrote %v", kinds)
		case <-time.After(5 * time.Millisecond):
		}
	}

	kinds := ws.kinds()
	stopIdx := -1
	for i, k := range kinds {
		if k == KindStopAudio {
			stopIdx = i
			break
		}
	}
	if stopIdx < 0 {
		t.Fatalf("StopAudio never written: %v", kinds)
	}
	// The stop marker must jump ahead of audio that was queued before it
	// but not yet written. Only the write in flight may precede it.
	if stopIdx > 1 {
		t.Errorf("StopAudio written at position %d, want <= 1: %v", stopIdx, kinds)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("writer did not stop on cancel")
	}
}

func TestWriter_EnqueueAfterCloseFails(t *testing.T) {
	ws := &fakeWS{}
	w := NewWriter(ws, WriterConfig{PingInterval: time.Hour, WriteTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	cancel()
	<-runDone

	if err := w.SendAudio([]byte{1}); err != ErrWriterClosed {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
	if err := w.SendStopAudio(); err != ErrWriterClosed {
		t.Errorf("Expected ErrWriterClosed, got %v", err)
	}
}

func TestWriter_AudioOrderPreserved(t *testing.T) {
	ws := &fakeWS{}
	w := NewWriter(ws, WriterConfig{PingInterval: time.Hour, WriteTimeout: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 20; i++ {
		if err := w.SendAudio([]byte{byte(i)}); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}

	deadline := time.After(2 * time.Second)
	for {
		ws.mu.Lock()
		n := len(ws.frames)
		ws.mu.Unlock()
		if n >= 20 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d frames written", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	ws.mu.Lock()
	defer ws.mu.Unlock()
	for i, raw := range ws.frames {
		frame, err := DecodeFrame(raw)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if len(frame.PCM) != 1 || frame.PCM[0] != byte(i) {
			t.Fatalf("frame %d out of order: %v", i, frame.PCM)
		}
	}
}
