package recording

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Encoder turns a raw PCM byte stream into a compressed artifact file.
// Start returns the sink; writes to it may block when the encoder cannot
// keep up (that backpressure is surfaced to the pipeline's drain loop, not
// to audio producers). After the sink is closed, Wait blocks until the
// artifact is finalized.
type Encoder interface {
	Start(ctx context.Context, dst string) (io.WriteCloser, error)
	Wait() error
	// Kill force-terminates the encoder when Wait exceeds its deadline.
	Kill() error
	// Ext is the artifact file extension, including the dot.
	Ext() string
}

// EncoderFactory builds one Encoder per recording session.
type EncoderFactory func() Encoder

// FFmpegEncoder streams s16le PCM into an ffmpeg child process producing
// an MP3 artifact. The stdin pipe gives natural backpressure: writes block
// once the OS pipe buffer is full.
type FFmpegEncoder struct {
	BinPath    string // defaults to "ffmpeg"
	SampleRate int
	Channels   int

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewFFmpegFactory returns an EncoderFactory producing FFmpegEncoders
// with the given input format.
func NewFFmpegFactory(binPath string, sampleRate, channels int) EncoderFactory {
	return func() Encoder {
		return &FFmpegEncoder{BinPath: binPath, SampleRate: sampleRate, Channels: channels}
	}
}

func (e *FFmpegEncoder) Start(ctx context.Context, dst string) (io.WriteCloser, error) {
	bin := e.BinPath
	if bin == "" {
		bin = "ffmpeg"
	}
	sampleRate := e.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	channels := e.Channels
	if channels <= 0 {
		channels = 1
	}

	cmd := exec.CommandContext(ctx, bin,
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-q:a", "4",
		"-y", dst,
	)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	e.mu.Lock()
	e.cmd = cmd
	e.mu.Unlock()
	return stdin, nil
}

func (e *FFmpegEncoder) Wait() error {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil {
		return fmt.Errorf("ffmpeg not started")
	}
	return cmd.Wait()
}

func (e *FFmpegEncoder) Kill() error {
	e.mu.Lock()
	cmd := e.cmd
	e.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func (e *FFmpegEncoder) Ext() string { return ".mp3" }
