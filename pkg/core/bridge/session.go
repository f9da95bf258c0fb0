package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ACSHKESL2020/acseventgridpstn-api/internal/metrics"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/recording"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/transcript"
)

// Status is a session's lifecycle state. Transitions are monotonic: active
// moves to exactly one terminal state and never back.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Result summarizes a finished session for the caller of OnFinished.
type Result struct {
	SessionID        string
	CallConnectionID string
	Status           Status
	Err              error
	StartedAt        time.Time
	EndedAt          time.Time
	Artifact         *recording.Artifact
}

// Dependencies are the session's collaborators. Backend and Caller are
// required; Recorder, Transcripts and OnFinished are optional.
type Dependencies struct {
	Backend     Backend
	Caller      CallerTransport
	Recorder    Recorder
	Transcripts TranscriptSink
	Logger      *slog.Logger

	// OnFinished runs once, inside the session goroutine, after finalize
	// has flushed transcripts and closed the recording.
	OnFinished func(Result)
}

type eventKind int

const (
	evCallerAudio eventKind = iota
	evCallerAudioStop
	evBackend
	evInterruptConfirmed
	evTransportClosed
	evDisconnected
	evGraceExpired
)

// sessionEvent is the single inbound unit the run loop consumes. Funneling
// caller frames, backend events and timer firings through one channel keeps
// all session state mutation on one goroutine.
type sessionEvent struct {
	kind    eventKind
	pcm     []byte
	backend BackendEvent
}

// Session relays one call between the telephony leg and the speech backend.
type Session struct {
	id               string
	callConnectionID string
	cfg              Config
	deps             Dependencies
	logger           *slog.Logger
	detector         *InterruptDetector

	events chan sessionEvent
	done   chan struct{}

	// Owned by the run loop.
	currentResponseID string
	streaming         bool
	recordingOn       bool
	transportClosed   bool
	disconnected      bool
	graceTimer        *time.Timer
	startedAt         time.Time

	finalizeOnce sync.Once

	mu       sync.Mutex
	status   Status
	finalErr error
	artifact *recording.Artifact
}

// New creates a session. It does not start the run loop; call Run.
func New(id, callConnectionID string, cfg Config, deps Dependencies) (*Session, error) {
	if deps.Backend == nil {
		return nil, errors.New("bridge: Backend is required")
	}
	if deps.Caller == nil {
		return nil, errors.New("bridge: Caller is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = def.MinSpeech
	}
	if cfg.InterruptCooldown <= 0 {
		cfg.InterruptCooldown = def.InterruptCooldown
	}
	if cfg.DisconnectGrace <= 0 {
		cfg.DisconnectGrace = def.DisconnectGrace
	}

	s := &Session{
		id:               id,
		callConnectionID: callConnectionID,
		cfg:              cfg,
		deps:             deps,
		logger:           deps.Logger.With("session_id", id),
		events:           make(chan sessionEvent, 512),
		done:             make(chan struct{}),
		status:           StatusActive,
	}
	s.detector = NewInterruptDetector(cfg.MinSpeech, cfg.InterruptCooldown)
	s.detector.SetCallbacks(
		func() { s.enqueue(sessionEvent{kind: evInterruptConfirmed}) },
		func(reason string) {
			metrics.InterruptionsDismissed.Inc()
			s.logger.Debug("barge-in dismissed", "reason", reason)
		},
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CallConnectionID returns the telephony correlation id.
func (s *Session) CallConnectionID() string { return s.callConnectionID }

// Status returns the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the session has finalized.
func (s *Session) Done() <-chan struct{} { return s.done }

// HandleCallerAudio enqueues a caller PCM frame for relay to the backend.
func (s *Session) HandleCallerAudio(pcm []byte) {
	s.enqueue(sessionEvent{kind: evCallerAudio, pcm: pcm})
}

// HandleCallerAudioStop enqueues the transport's end-of-utterance marker.
// It commits whatever caller audio the backend has buffered, for transports
// that frame utterances themselves instead of leaving detection to the
// backend's VAD.
func (s *Session) HandleCallerAudioStop() {
	s.enqueue(sessionEvent{kind: evCallerAudioStop})
}

// HandleBackendEvent enqueues a decoded backend event.
func (s *Session) HandleBackendEvent(ev BackendEvent) {
	s.enqueue(sessionEvent{kind: evBackend, backend: ev})
}

// TransportClosed signals the caller media websocket closed. The session
// stays open for DisconnectGrace so a late disconnect callback or trailing
// transcript events still land, then finalizes.
func (s *Session) TransportClosed() {
	s.enqueue(sessionEvent{kind: evTransportClosed})
}

// Disconnected signals the telephony service reported the call ended. The
// session finalizes immediately.
func (s *Session) Disconnected() {
	s.enqueue(sessionEvent{kind: evDisconnected})
}

func (s *Session) enqueue(ev sessionEvent) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run consumes the inbound event channel until the session finalizes or
// ctx is canceled. It returns the session's terminal error, if any.
func (s *Session) Run(ctx context.Context) error {
	s.startedAt = time.Now()
	metrics.ActiveSessions.Inc()
	defer metrics.ActiveSessions.Dec()

	s.logger.Info("session started", "call_connection_id", s.callConnectionID)

	for {
		select {
		case <-ctx.Done():
			s.finalize(StatusError, fmt.Errorf("session canceled: %w", ctx.Err()))
			return s.finalError()
		case ev := <-s.events:
			s.handle(ctx, ev)
			if s.Status() != StatusActive {
				return s.finalError()
			}
		}
	}
}

func (s *Session) handle(ctx context.Context, ev sessionEvent) {
	switch ev.kind {
	case evCallerAudio:
		if err := s.deps.Backend.AppendAudio(ctx, ev.pcm); err != nil {
			s.finalize(StatusError, fmt.Errorf("append caller audio: %w", err))
			return
		}
		s.record(ev.pcm)

	case evCallerAudioStop:
		if err := s.deps.Backend.CommitInput(ctx); err != nil {
			s.logger.Warn("commit input buffer failed", "error", err)
		}

	case evBackend:
		s.handleBackend(ctx, ev.backend)

	case evInterruptConfirmed:
		s.interrupt(ctx)

	case evTransportClosed:
		s.transportClosed = true
		if s.disconnected {
			s.finalize(StatusCompleted, nil)
			return
		}
		s.logger.Info("media transport closed, awaiting disconnect callback",
			"grace", s.cfg.DisconnectGrace)
		s.graceTimer = time.AfterFunc(s.cfg.DisconnectGrace, func() {
			s.enqueue(sessionEvent{kind: evGraceExpired})
		})

	case evDisconnected:
		s.disconnected = true
		s.finalize(StatusCompleted, nil)

	case evGraceExpired:
		s.finalize(StatusCompleted, nil)
	}
}

func (s *Session) handleBackend(ctx context.Context, ev BackendEvent) {
	switch e := ev.(type) {
	case SessionEstablished:
		s.logger.Info("backend session established")

	case ResponseStarted:
		s.currentResponseID = e.ID
		s.streaming = true
		s.detector.OnResponseStarted()
		s.logger.Debug("response started", "response_id", e.ID)

	case ResponseCompleted:
		if e.ID == s.currentResponseID {
			s.currentResponseID = ""
			s.streaming = false
		}
		s.logger.Debug("response completed", "response_id", e.ID)

	case SpeechStarted:
		s.detector.OnSpeechStarted(s.currentResponseID != "")

	case SpeechStopped:
		s.detector.OnSpeechStopped()

	case AudioDelta:
		// Deltas from a canceled or superseded response are stale; playing
		// them would resurrect audio the caller already interrupted.
		if !s.streaming || e.ResponseID != s.currentResponseID {
			metrics.StaleAudioDropped.Inc()
			s.logger.Debug("dropped stale audio delta",
				"response_id", e.ResponseID, "current_response_id", s.currentResponseID)
			return
		}
		if err := s.deps.Caller.SendAudio(e.PCM); err != nil {
			s.logger.Warn("send audio to caller failed", "error", err)
			return
		}
		s.record(e.PCM)

	case Transcript:
		if s.deps.Transcripts != nil {
			s.deps.Transcripts.Push(transcript.Segment{
				Text:       e.Text,
				Speaker:    e.Speaker,
				StartMS:    e.StartMS,
				EndMS:      e.EndMS,
				Confidence: e.Confidence,
			})
		}

	case BackendError:
		s.logger.Warn("backend reported error", "code", e.Code, "message", e.Message)

	default:
		s.logger.Debug("unhandled backend event", "type", fmt.Sprintf("%T", ev))
	}
}

// interrupt executes the confirmed barge-in action against the active
// response. Order matters: the caller-side stop marker goes out first so
// buffered playback halts before the backend is told anything. When the
// response finished while confirmation was racing the timer there is
// nothing left to cancel, but the stop marker and the clear/commit pair
// still run so the caller's turn starts from a clean input buffer.
func (s *Session) interrupt(ctx context.Context) {
	responseID := s.currentResponseID

	s.logger.Info("barge-in confirmed, interrupting response", "response_id", responseID)

	if err := s.deps.Caller.SendStopAudio(); err != nil {
		s.logger.Warn("send stop-audio failed", "error", err)
	}
	if responseID != "" {
		if err := s.deps.Backend.CancelResponse(ctx, responseID); err != nil {
			s.logger.Warn("cancel response failed", "response_id", responseID, "error", err)
		}
	}
	if err := s.deps.Backend.ClearInput(ctx); err != nil {
		s.logger.Warn("clear input buffer failed", "error", err)
	}
	if s.cfg.TTSStopTail > 0 {
		time.Sleep(s.cfg.TTSStopTail)
	}
	if err := s.deps.Backend.CommitInput(ctx); err != nil {
		s.logger.Warn("commit input buffer failed", "error", err)
	}

	s.currentResponseID = ""
	s.streaming = false
	metrics.InterruptionsConfirmed.Inc()
}

// record feeds the mixed stream (caller frames and assistant deltas) into
// the recorder. Recording is best effort; failures never touch the relay.
func (s *Session) record(pcm []byte) {
	if s.deps.Recorder == nil {
		return
	}
	if !s.recordingOn {
		if err := s.deps.Recorder.Start(s.id); err != nil {
			s.logger.Warn("recording start failed, disabling for session", "error", err)
			s.deps.Recorder = nil
			return
		}
		s.recordingOn = true
	}
	if err := s.deps.Recorder.Write(s.id, pcm); err != nil {
		s.logger.Debug("recording write failed", "error", err)
		return
	}
	metrics.RecordingBytes.Add(float64(len(pcm)))
}

// finalize runs the terminal sequence exactly once: flush transcripts, stop
// the recording, close the backend, publish the result.
func (s *Session) finalize(status Status, err error) {
	s.finalizeOnce.Do(func() {
		s.detector.Reset()
		if s.graceTimer != nil {
			s.graceTimer.Stop()
		}

		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if s.deps.Transcripts != nil {
			if ferr := s.deps.Transcripts.Close(flushCtx); ferr != nil {
				s.logger.Warn("final transcript flush failed", "error", ferr)
			}
		}

		var artifact *recording.Artifact
		if s.deps.Recorder != nil && s.recordingOn {
			art, rerr := s.deps.Recorder.Stop(flushCtx, s.id)
			if rerr != nil {
				s.logger.Warn("recording stop failed", "error", rerr)
				s.deps.Recorder.Cleanup(s.id)
			} else {
				artifact = art
			}
		}

		if cerr := s.deps.Backend.Close(); cerr != nil {
			s.logger.Debug("backend close", "error", cerr)
		}

		ended := time.Now()
		s.mu.Lock()
		s.status = status
		s.finalErr = err
		s.artifact = artifact
		s.mu.Unlock()

		if status == StatusError {
			s.logger.Error("session finished", "status", status, "error", err,
				"duration", ended.Sub(s.startedAt))
		} else {
			s.logger.Info("session finished", "status", status,
				"duration", ended.Sub(s.startedAt))
		}

		if s.deps.OnFinished != nil {
			s.deps.OnFinished(Result{
				SessionID:        s.id,
				CallConnectionID: s.callConnectionID,
				Status:           status,
				Err:              err,
				StartedAt:        s.startedAt,
				EndedAt:          ended,
				Artifact:         artifact,
			})
		}

		close(s.done)
	})
}

func (s *Session) finalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}
