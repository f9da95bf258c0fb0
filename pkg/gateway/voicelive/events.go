// Package voicelive adapts the Azure Voice Live realtime websocket into the
// relay core's typed backend events and commands.
package voicelive

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/bridge"
	"github.com/ACSHKESL2020/acseventgridpstn-api/pkg/core/transcript"
)

// wireEvent is the superset of fields across the realtime message types the
// gateway reacts to.
type wireEvent struct {
	Type string `json:"type"`

	Session *struct {
		ID string `json:"id"`
	} `json:"session"`

	Response *struct {
		ID string `json:"id"`
	} `json:"response"`

	ResponseID   string `json:"response_id"`
	Delta        string `json:"delta"`
	AudioStartMS int64  `json:"audio_start_ms"`
	AudioEndMS   int64  `json:"audio_end_ms"`
	Transcript   string `json:"transcript"`

	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeEvent maps a wire message onto a typed backend event. Messages the
// relay has no use for decode to (nil, nil); only malformed payloads error.
func DecodeEvent(raw []byte) (bridge.BackendEvent, error) {
	var ev wireEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode backend event: %w", err)
	}

	switch ev.Type {
	case "session.created":
		return bridge.SessionEstablished{}, nil

	case "response.created":
		if ev.Response == nil {
			return nil, fmt.Errorf("response.created without response")
		}
		return bridge.ResponseStarted{ID: ev.Response.ID}, nil

	case "response.done":
		if ev.Response == nil {
			return nil, fmt.Errorf("response.done without response")
		}
		return bridge.ResponseCompleted{ID: ev.Response.ID}, nil

	case "input_audio_buffer.speech_started":
		return bridge.SpeechStarted{AudioStartMS: ev.AudioStartMS}, nil

	case "input_audio_buffer.speech_stopped":
		return bridge.SpeechStopped{}, nil

	case "response.audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode audio delta: %w", err)
		}
		return bridge.AudioDelta{ResponseID: ev.ResponseID, PCM: pcm}, nil

	case "conversation.item.input_audio_transcription.completed":
		return bridge.Transcript{
			Speaker: transcript.SpeakerUser,
			Text:    ev.Transcript,
			StartMS: ev.AudioStartMS,
			EndMS:   ev.AudioEndMS,
		}, nil

	case "response.audio_transcript.done":
		return bridge.Transcript{
			Speaker: transcript.SpeakerAssistant,
			Text:    ev.Transcript,
		}, nil

	case "error":
		if ev.Error == nil {
			return bridge.BackendError{}, nil
		}
		return bridge.BackendError{Code: ev.Error.Code, Message: ev.Error.Message}, nil

	default:
		return nil, nil
	}
}
