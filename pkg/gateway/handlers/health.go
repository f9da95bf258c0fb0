package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/config"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/lifecycle"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "pstn-gateway",
	})
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                 bool     `json:"ok"`
		Draining           bool     `json:"draining"`
		ActiveSessions     int      `json:"active_sessions"`
		PersistenceEnabled bool     `json:"persistence_enabled"`
		UploadEnabled      bool     `json:"upload_enabled"`
		Issues             []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)

	draining := h.Lifecycle.IsDraining()
	if draining {
		issues = append(issues, "gateway is draining")
	}
	if h.Config.PublicBaseURL == "" {
		issues = append(issues, "public base url not configured")
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:                 ok,
		Draining:           draining,
		ActiveSessions:     h.Sessions.Count(),
		PersistenceEnabled: h.Config.DatabaseURL != "",
		UploadEnabled:      h.Config.S3Bucket != "",
		Issues:             issues,
	})
}
