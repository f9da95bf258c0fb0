// Package server assembles the gateway's HTTP routes and middleware.
package server

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/recording"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/acs"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/config"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/handlers"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/lifecycle"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/mw"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/sessions"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/voicelive"
)

// Dependencies are the wired collaborators the server routes requests to.
// Store and Uploader are nil when persistence or upload is disabled.
type Dependencies struct {
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Pending   *sessions.PendingCalls
	Calls     acs.CallClient
	Tokens    voicelive.TokenProvider
	Recorder  *recording.Pipeline
	Store     handlers.CallStore
	Uploader  handlers.ArtifactUploader
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Dependencies) {
	s.mux.Handle("GET /{$}", handlers.HealthHandler{})
	s.mux.Handle("GET /health", handlers.HealthHandler{})
	s.mux.Handle("GET /ready", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: deps.Lifecycle,
		Sessions:  deps.Sessions,
	})
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.Handle("POST /api/incomingCall", handlers.IncomingCallHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: deps.Lifecycle,
		Calls:     deps.Calls,
		Pending:   deps.Pending,
	})
	s.mux.Handle("POST /api/callbacks/{contextID}", handlers.CallbacksHandler{
		Logger:   s.logger,
		Sessions: deps.Sessions,
	})

	s.mux.Handle("GET /ws", &handlers.MediaHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Lifecycle: deps.Lifecycle,
		Sessions:  deps.Sessions,
		Pending:   deps.Pending,
		Tokens:    deps.Tokens,
		Recorder:  deps.Recorder,
		Store:     deps.Store,
		Uploader:  deps.Uploader,
	})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
