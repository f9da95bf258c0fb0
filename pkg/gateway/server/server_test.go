package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/config"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/lifecycle"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/sessions"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/voicelive"
)

type noopCallClient struct{}

func (noopCallClient) Answer(context.Context, string, string, string) (string, error) {
	return "conn-test", nil
}

func newTestServer() *Server {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return New(config.Config{
		PublicBaseURL: "https://gateway.example.com",
	}, logger, Dependencies{
		Lifecycle: &lifecycle.Lifecycle{},
		Sessions:  sessions.NewTracker(),
		Pending:   sessions.NewPendingCalls(),
		Calls:     noopCallClient{},
		Tokens:    voicelive.StaticTokenProvider("tok"),
	})
}

func TestServer_HealthRoute(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"healthy"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServer_MetricsRoute_Reachable(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rr.Code)
	}
}

func TestServer_WebhookRoutes_Reachable(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/incomingCall",
		strings.NewReader(`[{"eventType":"Microsoft.EventGrid.SubscriptionValidationEvent","data":{"validationCode":"c"}}]`))
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("/api/incomingCall status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"validationResponse":"c"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/callbacks/ctx-1",
		strings.NewReader(`[{"type":"Microsoft.Communication.CallConnected","data":{"callConnectionId":"conn-1"}}]`))
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("/api/callbacks status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServer_RequestIDHeaderSet(t *testing.T) {
	s := newTestServer()

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header")
	}
}

func TestServer_MediaRouteRefusedWhileDraining(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	lc := &lifecycle.Lifecycle{}
	s := New(config.Config{PublicBaseURL: "https://gateway.example.com"}, logger, Dependencies{
		Lifecycle: lc,
		Sessions:  sessions.NewTracker(),
		Pending:   sessions.NewPendingCalls(),
		Calls:     noopCallClient{},
		Tokens:    voicelive.StaticTokenProvider("tok"),
	})
	lc.SetDraining(true)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/ws status=%d, want 503 while draining", rr.Code)
	}
}
