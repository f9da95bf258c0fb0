package voicelive

import (
	"encoding/base64"
	"encoding/json"
)

// SessionOptions configures the realtime session: Azure semantic VAD with
// end-of-utterance detection, deep noise suppression and server echo
// cancellation, plus the synthesis voice.
type SessionOptions struct {
	VoiceName        string
	VoiceTemperature float64
}

type turnDetection struct {
	Type                    string         `json:"type"`
	Threshold               float64        `json:"threshold"`
	PrefixPaddingMS         int            `json:"prefix_padding_ms"`
	SilenceDurationMS       int            `json:"silence_duration_ms"`
	RemoveFillerWords       bool           `json:"remove_filler_words"`
	EndOfUtteranceDetection map[string]any `json:"end_of_utterance_detection"`
}

type sessionBody struct {
	TurnDetection    turnDetection  `json:"turn_detection"`
	NoiseReduction   map[string]any `json:"input_audio_noise_reduction"`
	EchoCancellation map[string]any `json:"input_audio_echo_cancellation"`
	Voice            map[string]any `json:"voice"`
	Modalities       []string       `json:"modalities"`
}

func encodeSessionUpdate(opts SessionOptions) ([]byte, error) {
	body := sessionBody{
		TurnDetection: turnDetection{
			Type:              "azure_semantic_vad",
			Threshold:         0.3,
			PrefixPaddingMS:   200,
			SilenceDurationMS: 200,
			RemoveFillerWords: false,
			EndOfUtteranceDetection: map[string]any{
				"model":     "semantic_detection_v1",
				"threshold": 0.01,
				"timeout":   2,
			},
		},
		NoiseReduction:   map[string]any{"type": "azure_deep_noise_suppression"},
		EchoCancellation: map[string]any{"type": "server_echo_cancellation"},
		Voice: map[string]any{
			"name":        opts.VoiceName,
			"type":        "azure-standard",
			"temperature": opts.VoiceTemperature,
		},
		Modalities: []string{"text", "audio"},
	}
	return json.Marshal(map[string]any{
		"type":     "session.update",
		"session":  body,
		"event_id": "",
	})
}

func encodeAudioAppend(pcm []byte) ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":     "input_audio_buffer.append",
		"audio":    base64.StdEncoding.EncodeToString(pcm),
		"event_id": "",
	})
}

func encodeInputCommit() ([]byte, error) {
	return json.Marshal(map[string]any{"type": "input_audio_buffer.commit", "event_id": ""})
}

func encodeInputClear() ([]byte, error) {
	return json.Marshal(map[string]any{"type": "input_audio_buffer.clear", "event_id": ""})
}

func encodeResponseCancel(responseID string) ([]byte, error) {
	msg := map[string]any{"type": "response.cancel", "event_id": ""}
	if responseID != "" {
		msg["response_id"] = responseID
	}
	return json.Marshal(msg)
}

func encodeResponseCreate() ([]byte, error) {
	return json.Marshal(map[string]any{
		"type":     "response.create",
		"response": map[string]any{"modalities": []string{"text", "audio"}},
	})
}
