// Package handlers contains the gateway's HTTP surface: the Event Grid
// webhook that answers incoming calls, the Call Automation lifecycle
// callback endpoint, and the media websocket that bridges caller audio to
// the speech backend.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/acs"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/config"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/lifecycle"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/gateway/sessions"
)

const maxWebhookBodyBytes = 1 << 20

// IncomingCallHandler answers Event Grid IncomingCall events and serves the
// subscription validation handshake.
type IncomingCallHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Lifecycle *lifecycle.Lifecycle
	Calls     acs.CallClient
	Pending   *sessions.PendingCalls
}

func (h IncomingCallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var events []acs.GridEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err := dec.Decode(&events); err != nil {
		h.Logger.Warn("undecodable event grid payload", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	for _, ev := range events {
		switch ev.EventType {
		case acs.EventSubscriptionValidation:
			var data acs.SubscriptionValidationData
			if err := json.Unmarshal(ev.Data, &data); err != nil {
				h.Logger.Warn("undecodable validation event", "error", err)
				http.Error(w, "bad request", http.StatusBadRequest)
				return
			}
			h.Logger.Info("event grid subscription validation")
			writeJSON(w, http.StatusOK, map[string]string{
				"validationResponse": data.ValidationCode,
			})
			return

		case acs.EventIncomingCall:
			if h.Lifecycle.IsDraining() {
				h.Logger.Info("refusing incoming call, gateway is draining")
				http.Error(w, "gateway is draining", http.StatusServiceUnavailable)
				return
			}
			if !h.answer(r, ev.Data) {
				http.Error(w, "answer failed", http.StatusBadGateway)
				return
			}

		default:
			h.Logger.Debug("ignoring event grid event", "event_type", ev.EventType)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h IncomingCallHandler) answer(r *http.Request, raw json.RawMessage) bool {
	var data acs.IncomingCallData
	if err := json.Unmarshal(raw, &data); err != nil {
		h.Logger.Warn("undecodable incoming call event", "error", err)
		return false
	}

	contextID := uuid.NewString()
	callerID := data.From.CallerID()
	callbackURL := h.Config.CallbackURL(contextID, callerID)
	websocketURL := h.Config.MediaWebsocketURL()

	callConnectionID, err := h.Calls.Answer(r.Context(), data.IncomingCallContext, callbackURL, websocketURL)
	if err != nil {
		h.Logger.Error("answer call failed", "caller_id", callerID, "error", err)
		return false
	}

	h.Pending.Add(sessions.PendingCall{
		CallConnectionID: callConnectionID,
		CallerID:         callerID,
	})
	h.Logger.Info("call answered",
		"caller_id", callerID,
		"call_connection_id", callConnectionID,
		"context_id", contextID)
	return true
}

// CallbacksHandler receives Call Automation lifecycle callbacks. It always
// acknowledges with 200 so the telephony service does not retry; a failed
// callback cannot be allowed to wedge call teardown.
type CallbacksHandler struct {
	Logger   *slog.Logger
	Sessions *sessions.Tracker
}

func (h CallbacksHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	contextID := r.PathValue("contextID")

	var events []acs.CallbackEvent
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err := dec.Decode(&events); err != nil {
		h.Logger.Warn("undecodable callback payload", "context_id", contextID, "error", err)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	for _, ev := range events {
		logger := h.Logger.With(
			"context_id", contextID,
			"call_connection_id", ev.Data.CallConnectionID)

		switch ev.Type {
		case acs.EventCallConnected:
			logger.Info("call connected")

		case acs.EventCallDisconnected:
			if h.Sessions.Disconnect(ev.Data.CallConnectionID) {
				logger.Info("call disconnected, session notified")
			} else {
				logger.Info("call disconnected, no live session matched")
			}

		case acs.EventMediaStreamingStarted:
			logger.Info("media streaming started")

		case acs.EventMediaStreamingStopped:
			logger.Info("media streaming stopped")

		case acs.EventMediaStreamingFailed:
			if ri := ev.Data.ResultInformation; ri != nil {
				logger.Warn("media streaming failed",
					"code", ri.Code, "sub_code", ri.SubCode, "message", ri.Message)
			} else {
				logger.Warn("media streaming failed")
			}

		default:
			logger.Debug("ignoring callback event", "type", ev.Type)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
