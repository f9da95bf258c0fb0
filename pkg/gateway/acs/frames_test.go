package acs

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeFrame_CamelCase(t *testing.T) {
	pcm := []byte{1, 2, 3, 4}
	raw := []byte(`{"kind":"AudioData","audioData":{"data":"` +
		base64.StdEncoding.EncodeToString(pcm) + `","silent":false}}`)

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Kind != KindAudioData {
		t.Errorf("Kind = %q, want %q", frame.Kind, KindAudioData)
	}
	if !bytes.Equal(frame.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", frame.PCM, pcm)
	}
}

func TestDecodeFrame_PascalCase(t *testing.T) {
	pcm := []byte{9, 8, 7}
	raw := []byte(`{"Kind":"AudioData","AudioData":{"Data":"` +
		base64.StdEncoding.EncodeToString(pcm) + `"}}`)

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !bytes.Equal(frame.PCM, pcm) {
		t.Errorf("PCM = %v, want %v", frame.PCM, pcm)
	}
}

func TestDecodeFrame_StopAudio(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"kind":"StopAudio","stopAudio":{}}`))
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Kind != KindStopAudio {
		t.Errorf("Kind = %q, want %q", frame.Kind, KindStopAudio)
	}
	if len(frame.PCM) != 0 {
		t.Errorf("PCM = %v, want empty", frame.PCM)
	}
}

func TestDecodeFrame_SilentFlag(t *testing.T) {
	data := base64.StdEncoding.EncodeToString(make([]byte, 4))
	for _, raw := range []string{
		`{"kind":"AudioData","audioData":{"data":"` + data + `","silent":true}}`,
		`{"Kind":"AudioData","AudioData":{"Data":"` + data + `","Silent":true}}`,
	} {
		frame, err := DecodeFrame([]byte(raw))
		if err != nil {
			t.Fatalf("DecodeFrame(%s): %v", raw, err)
		}
		if !frame.Silent {
			t.Errorf("Silent = false for %s", raw)
		}
	}
}

func TestDecodeFrame_UnhandledKind(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"kind":"AudioMetadata","audioMetadata":{"encoding":"PCM"}}`))
	if !errors.Is(err, ErrUnhandledFrame) {
		t.Fatalf("Expected ErrUnhandledFrame, got %v", err)
	}
	if frame.Kind != KindAudioMetadata {
		t.Errorf("Kind = %q, want %q", frame.Kind, KindAudioMetadata)
	}
}

func TestDecodeFrame_NonJSON(t *testing.T) {
	if _, err := DecodeFrame([]byte("not json")); err == nil {
		t.Error("Expected error for non-JSON frame")
	}
}

func TestDecodeFrame_BadBase64(t *testing.T) {
	if _, err := DecodeFrame([]byte(`{"kind":"AudioData","audioData":{"data":"!!!"}}`)); err == nil {
		t.Error("Expected error for invalid base64 payload")
	}
}

func TestEncodeAudioFrame_RoundTrip(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30}
	raw, err := EncodeAudioFrame(pcm)
	if err != nil {
		t.Fatalf("EncodeAudioFrame: %v", err)
	}

	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if env["Kind"] != "AudioData" {
		t.Errorf("Kind = %v, want AudioData", env["Kind"])
	}
	if env["StopAudio"] != nil {
		t.Errorf("StopAudio = %v, want null", env["StopAudio"])
	}

	frame, err := DecodeFrame(raw)
	if err != nil {
		t.Fatalf("DecodeFrame own output: %v", err)
	}
	if !bytes.Equal(frame.PCM, pcm) {
		t.Errorf("round trip PCM = %v, want %v", frame.PCM, pcm)
	}
}

func TestEncodeStopAudioFrame(t *testing.T) {
	raw, err := EncodeStopAudioFrame()
	if err != nil {
		t.Fatalf("EncodeStopAudioFrame: %v", err)
	}

	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if env["Kind"] != "StopAudio" {
		t.Errorf("Kind = %v, want StopAudio", env["Kind"])
	}
	if env["AudioData"] != nil {
		t.Errorf("AudioData = %v, want null", env["AudioData"])
	}
	if _, ok := env["StopAudio"].(map[string]any); !ok {
		t.Errorf("StopAudio = %v, want empty object", env["StopAudio"])
	}
}
