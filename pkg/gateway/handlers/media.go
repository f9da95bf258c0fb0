package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/ACSHKESL2020/acseventgridpstn-api/internal/metrics"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/bridge"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/recording"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/transcript"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/acs"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/config"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/lifecycle"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/sessions"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/store"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/voicelive"
)

const mediaReadLimit = 1 << 20

// CallStore is the persistence surface the media handler needs.
// *store.CallStore implements it; a nil CallStore disables persistence.
type CallStore interface {
	CreateSession(ctx context.Context, sess store.Session) error
	FinishSession(ctx context.Context, sess store.Session) error
	ReserveSequences(ctx context.Context, sessionID string, n int) (int64, error)
	AppendSegments(ctx context.Context, sessionID string, segs []transcript.Segment) error
}

// ArtifactUploader pushes a finished recording to object storage.
type ArtifactUploader interface {
	Upload(ctx context.Context, art *recording.Artifact) error
}

// MediaHandler owns the /ws endpoint the telephony service streams call
// media to. Each connection becomes one bridge session.
type MediaHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Pending   *sessions.PendingCalls
	Tokens    voicelive.TokenProvider

	Recorder *recording.Pipeline // nil disables recording
	Store    CallStore           // nil disables persistence
	Uploader ArtifactUploader    // nil disables artifact upload
}

func (h *MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Logger.Warn("media websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(mediaReadLimit)

	sessionID := uuid.NewString()
	pending, correlated := h.Pending.Claim()
	logger := h.Logger.With(
		"session_id", sessionID,
		"call_connection_id", pending.CallConnectionID)
	if !correlated {
		logger.Warn("media websocket without a pending answered call")
	}

	backend, err := voicelive.Dial(r.Context(), voicelive.Config{
		Endpoint:    h.Config.VoiceLiveEndpoint,
		APIVersion:  h.Config.VoiceLiveAPIVersion,
		ProjectName: h.Config.VoiceLiveProjectName,
		AgentID:     h.Config.VoiceLiveAgentID,
	}, h.Tokens, logger)
	if err != nil {
		logger.Error("speech backend connect failed", "error", err)
		h.closeInternal(conn, "backend unavailable")
		return
	}

	opts := voicelive.SessionOptions{
		VoiceName:        h.Config.VoiceName,
		VoiceTemperature: h.Config.VoiceTemperature,
	}
	if err := backend.ConfigureSession(r.Context(), opts); err != nil {
		logger.Error("speech backend session setup failed", "error", err)
		_ = backend.Close()
		h.closeInternal(conn, "backend unavailable")
		return
	}

	if h.Store != nil {
		if err := h.Store.CreateSession(r.Context(), store.Session{
			ID:               sessionID,
			CallConnectionID: pending.CallConnectionID,
			CallerID:         pending.CallerID,
			StartedAt:        time.Now(),
		}); err != nil {
			logger.Warn("persist session start failed", "error", err)
		}
	}

	writer := acs.NewWriter(conn, acs.WriterConfig{
		PingInterval: h.Config.WSPingInterval,
		WriteTimeout: h.Config.WSWriteTimeout,
	})

	deps := bridge.Dependencies{
		Backend:    backend,
		Caller:     writer,
		Logger:     logger,
		OnFinished: h.finish,
	}
	if h.Recorder != nil {
		deps.Recorder = h.Recorder
	}
	if h.Store != nil {
		deps.Transcripts = transcript.NewBatcher(sessionID, h.Store, transcript.Config{
			MaxBatchSize: h.Config.TranscriptMaxBatchSize,
			FlushDelay:   h.Config.TranscriptFlushDelay,
		}, logger)
	}

	sess, err := bridge.New(sessionID, pending.CallConnectionID, bridge.Config{
		MinSpeech:         h.Config.MinSpeech,
		InterruptCooldown: h.Config.InterruptCooldown,
		TTSStopTail:       h.Config.TTSStopTail,
		DisconnectGrace:   h.Config.DisconnectGrace,
	}, deps)
	if err != nil {
		logger.Error("session setup failed", "error", err)
		_ = backend.Close()
		h.closeInternal(conn, "internal error")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unregister := h.Sessions.Register(sessionID, sessions.Handle{
		CallConnectionID: pending.CallConnectionID,
		Cancel:           cancel,
		Disconnect:       sess.Disconnected,
	})
	defer unregister()

	// Once the session finalizes, unblock both pumps: cancel stops the
	// writer and the backend read loop, closing the caller socket stops
	// the caller read loop.
	go func() {
		<-sess.Done()
		cancel()
		_ = conn.Close()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_ = sess.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := writer.Run(gctx); err != nil {
			logger.Warn("media writer stopped", "error", err)
			sess.TransportClosed()
		}
		return nil
	})
	g.Go(func() error {
		if err := backend.ReadLoop(gctx, sess.HandleBackendEvent); err != nil && gctx.Err() == nil {
			logger.Warn("speech backend read loop stopped", "error", err)
			sess.HandleBackendEvent(bridge.BackendError{
				Code:    "connection_lost",
				Message: err.Error(),
			})
		}
		return nil
	})
	g.Go(func() error {
		h.readCallerMedia(conn, sess)
		return nil
	})
	_ = g.Wait()
}

// readCallerMedia pumps caller frames into the session until the websocket
// closes. Stop markers commit the backend input buffer; metadata frames,
// silent filler and transport noise are not relayed.
func (h *MediaHandler) readCallerMedia(conn *websocket.Conn, sess *bridge.Session) {
	defer sess.TransportClosed()
	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := acs.DecodeFrame(raw)
		if err != nil {
			continue
		}
		switch frame.Kind {
		case acs.KindStopAudio:
			sess.HandleCallerAudioStop()
		case acs.KindAudioData:
			if frame.Silent || len(frame.PCM) == 0 {
				continue
			}
			sess.HandleCallerAudio(frame.PCM)
		}
	}
}

func (h *MediaHandler) closeInternal(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseInternalServerErr, reason),
		time.Now().Add(time.Second))
}

// finish runs on the session goroutine after finalize. It uploads the
// recording artifact and records the terminal session row.
func (h *MediaHandler) finish(res bridge.Result) {
	metrics.SessionsTotal.WithLabelValues(string(res.Status)).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if res.Artifact != nil && h.Uploader != nil {
		if err := h.Uploader.Upload(ctx, res.Artifact); err != nil {
			h.Logger.Error("artifact upload failed",
				"session_id", res.SessionID, "error", err)
		}
	}

	if h.Store == nil {
		return
	}
	sess := store.Session{
		ID:               res.SessionID,
		CallConnectionID: res.CallConnectionID,
		Status:           string(res.Status),
		StartedAt:        res.StartedAt,
		EndedAt:          &res.EndedAt,
	}
	if res.Err != nil {
		sess.Error = res.Err.Error()
	}
	if res.Artifact != nil {
		sess.RecordingURL = res.Artifact.UploadedURL
		sess.RecordingBytes = res.Artifact.SizeBytes
		sess.RecordingSHA256 = res.Artifact.ContentHash
	}
	if err := h.Store.FinishSession(ctx, sess); err != nil {
		h.Logger.Warn("persist session finish failed",
			"session_id", res.SessionID, "error", err)
	}
}
