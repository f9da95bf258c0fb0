// Package acs adapts the Azure Communication Services side of a call: the
// bidirectional media-streaming websocket, the Call Automation REST client
// used to answer calls, and the Event Grid webhook envelopes.
package acs

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Media-stream frame kinds.
const (
	KindAudioData     = "AudioData"
	KindAudioMetadata = "AudioMetadata"
	KindStopAudio     = "StopAudio"
)

// ErrUnhandledFrame marks inbound frames the relay has no use for
// (metadata, DTMF and similar). Callers log and move on.
var ErrUnhandledFrame = errors.New("unhandled media frame kind")

type outAudioData struct {
	Data string `json:"Data"`
}

// outFrame is the envelope the media-streaming service accepts. The service
// expects all three keys present, with the unused payload null.
type outFrame struct {
	Kind      string        `json:"Kind"`
	AudioData *outAudioData `json:"AudioData"`
	StopAudio *struct{}     `json:"StopAudio"`
}

// EncodeAudioFrame wraps raw PCM in an outbound AudioData envelope.
func EncodeAudioFrame(pcm []byte) ([]byte, error) {
	return json.Marshal(outFrame{
		Kind:      KindAudioData,
		AudioData: &outAudioData{Data: base64.StdEncoding.EncodeToString(pcm)},
	})
}

// EncodeStopAudioFrame builds the marker telling the service to flush any
// buffered-but-unplayed audio.
func EncodeStopAudioFrame() ([]byte, error) {
	return json.Marshal(outFrame{
		Kind:      KindStopAudio,
		StopAudio: &struct{}{},
	})
}

// InboundFrame is a decoded media-stream frame from the service. Silent is
// set on filler frames the service generates while the caller says nothing.
type InboundFrame struct {
	Kind   string
	PCM    []byte
	Silent bool
}

// inEnvelope tolerates both key casings; the service documents camelCase
// but has been observed emitting PascalCase.
type inEnvelope struct {
	Kind       string   `json:"kind"`
	KindPascal string   `json:"Kind"`
	Audio      *inAudio `json:"audioData"`
	AudioUpper *inAudio `json:"AudioData"`
}

type inAudio struct {
	Data         string `json:"data"`
	DataPascal   string `json:"Data"`
	Silent       bool   `json:"silent"`
	SilentPascal bool   `json:"Silent"`
}

// DecodeFrame parses an inbound media-stream frame. Non-JSON input returns
// an error; recognized kinds other than AudioData and StopAudio return
// ErrUnhandledFrame.
func DecodeFrame(raw []byte) (InboundFrame, error) {
	var env inEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return InboundFrame{}, fmt.Errorf("decode media frame: %w", err)
	}

	kind := env.Kind
	if kind == "" {
		kind = env.KindPascal
	}
	if kind == KindStopAudio {
		return InboundFrame{Kind: kind}, nil
	}
	if kind != KindAudioData {
		return InboundFrame{Kind: kind}, ErrUnhandledFrame
	}

	audio := env.Audio
	if audio == nil {
		audio = env.AudioUpper
	}
	if audio == nil {
		return InboundFrame{Kind: kind}, fmt.Errorf("AudioData frame without payload")
	}
	data := audio.Data
	if data == "" {
		data = audio.DataPascal
	}

	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return InboundFrame{Kind: kind}, fmt.Errorf("decode audio payload: %w", err)
	}
	return InboundFrame{Kind: kind, PCM: pcm, Silent: audio.Silent || audio.SilentPascal}, nil
}
