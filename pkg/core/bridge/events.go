// Package bridge implements the duplex relay core: one goroutine per call
// session shuttling audio between the telephony leg and the speech backend,
// arbitrating barge-in interruptions, and driving recording and transcript
// persistence.
package bridge

import (
	"context"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/recording"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/transcript"
)

// BackendEvent is a message from the speech backend, already decoded from
// the wire into a typed value. The set is closed: the transport adapter maps
// wire messages onto these structs and drops anything it does not recognize,
// so the core never dispatches on raw strings.
type BackendEvent interface {
	backendEvent()
}

// SessionEstablished signals the backend accepted the session configuration.
type SessionEstablished struct{}

// ResponseStarted signals the backend began generating a response. ID
// becomes the session's current response until completion or interruption.
type ResponseStarted struct {
	ID string
}

// ResponseCompleted signals the backend finished (or aborted) a response.
type ResponseCompleted struct {
	ID string
}

// SpeechStarted signals the backend's VAD detected caller speech while a
// response may be playing. AudioStartMS is the backend's buffer offset.
type SpeechStarted struct {
	AudioStartMS int64
}

// SpeechStopped signals the backend's VAD detected end of caller speech.
type SpeechStopped struct{}

// AudioDelta carries a chunk of synthesized response audio. ResponseID ties
// the chunk to the response that produced it so stale chunks from a
// canceled response can be dropped.
type AudioDelta struct {
	ResponseID string
	PCM        []byte
}

// Transcript carries a finalized transcript segment for either speaker.
type Transcript struct {
	Speaker    transcript.Speaker
	Text       string
	StartMS    int64
	EndMS      int64
	Confidence float64
}

// BackendError carries an error event reported by the backend.
type BackendError struct {
	Code    string
	Message string
}

func (SessionEstablished) backendEvent() {}
func (ResponseStarted) backendEvent()    {}
func (ResponseCompleted) backendEvent()  {}
func (SpeechStarted) backendEvent()      {}
func (SpeechStopped) backendEvent()      {}
func (AudioDelta) backendEvent()         {}
func (Transcript) backendEvent()         {}
func (BackendError) backendEvent()       {}

// Backend is the session's command surface toward the speech backend.
type Backend interface {
	// AppendAudio streams caller PCM into the backend's input buffer.
	AppendAudio(ctx context.Context, pcm []byte) error

	// CommitInput finalizes the pending input buffer as a user turn.
	CommitInput(ctx context.Context) error

	// ClearInput discards the pending input buffer.
	ClearInput(ctx context.Context) error

	// CancelResponse aborts an in-flight response.
	CancelResponse(ctx context.Context, responseID string) error

	Close() error
}

// CallerTransport is the session's command surface toward the telephony leg.
type CallerTransport interface {
	// SendAudio delivers synthesized PCM to the caller.
	SendAudio(pcm []byte) error

	// SendStopAudio tells the telephony service to flush any audio it has
	// buffered but not yet played.
	SendStopAudio() error
}

// Recorder receives the mixed call audio. recording.Pipeline satisfies it.
type Recorder interface {
	Start(sessionID string) error
	Write(sessionID string, pcm []byte) error
	Stop(ctx context.Context, sessionID string) (*recording.Artifact, error)
	Cleanup(sessionID string)
}

// TranscriptSink receives finalized transcript segments. transcript.Batcher
// satisfies it.
type TranscriptSink interface {
	Push(seg transcript.Segment)
	Close(ctx context.Context) error
}
