package acs

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

type wsWriter interface {
	SetWriteDeadline(t time.Time) error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// WriterConfig tunes the outbound media writer.
type WriterConfig struct {
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// ErrWriterClosed is returned by enqueue methods after the writer stopped.
var ErrWriterClosed = errors.New("media writer closed")

// Writer serializes outbound media frames onto the caller websocket from a
// single goroutine. StopAudio markers go through a priority channel and
// preempt any queued audio, so an interruption halts playback ahead of
// whatever synthesized audio is still waiting to be written.
type Writer struct {
	ws  wsWriter
	cfg WriterConfig

	priority chan []byte
	normal   chan []byte
	done     chan struct{}
}

// NewWriter creates a writer for the given websocket.
func NewWriter(ws wsWriter, cfg WriterConfig) *Writer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Writer{
		ws:       ws,
		cfg:      cfg,
		priority: make(chan []byte, 8),
		normal:   make(chan []byte, 256),
		done:     make(chan struct{}),
	}
}

// SendAudio queues synthesized PCM for the caller.
func (w *Writer) SendAudio(pcm []byte) error {
	frame, err := EncodeAudioFrame(pcm)
	if err != nil {
		return err
	}
	select {
	case w.normal <- frame:
		return nil
	case <-w.done:
		return ErrWriterClosed
	}
}

// SendStopAudio queues a flush marker ahead of all pending audio.
func (w *Writer) SendStopAudio() error {
	frame, err := EncodeStopAudioFrame()
	if err != nil {
		return err
	}
	select {
	case w.priority <- frame:
		return nil
	case <-w.done:
		return ErrWriterClosed
	}
}

// Run drains the frame channels onto the websocket until ctx is canceled or
// a write fails. It owns all writes to the connection.
func (w *Writer) Run(ctx context.Context) error {
	defer close(w.done)

	pingTicker := time.NewTicker(w.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		// Hard priority: drain stop markers before anything else.
		select {
		case frame := <-w.priority:
			if err := w.write(frame); err != nil {
				return err
			}
			continue
		default:
		}

		select {
		case <-ctx.Done():
			w.flushPriorityOnShutdown()
			_ = w.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(w.cfg.WriteTimeout))
			return nil
		case <-pingTicker.C:
			deadline := time.Now().Add(w.cfg.WriteTimeout)
			if err := w.ws.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				return err
			}
		case frame := <-w.priority:
			if err := w.write(frame); err != nil {
				return err
			}
		case frame := <-w.normal:
			// A stop marker queued while this frame waited preempts it.
			select {
			case pframe := <-w.priority:
				if err := w.write(pframe); err != nil {
					return err
				}
			default:
			}
			if err := w.write(frame); err != nil {
				return err
			}
		}
	}
}

func (w *Writer) flushPriorityOnShutdown() {
	for i := 0; i < 8; i++ {
		select {
		case frame := <-w.priority:
			_ = w.write(frame)
		default:
			return
		}
	}
}

func (w *Writer) write(frame []byte) error {
	if err := w.ws.SetWriteDeadline(time.Now().Add(w.cfg.WriteTimeout)); err != nil {
		return err
	}
	return w.ws.WriteMessage(websocket.TextMessage, frame)
}
