package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"PSTN_GATEWAY_ADDR",
	"PSTN_GATEWAY_BASE_URL",
	"ACS_CONNECTION_STRING",
	"VOICE_LIVE_ENDPOINT",
	"VOICE_LIVE_API_VERSION",
	"VOICE_LIVE_PROJECT_NAME",
	"VOICE_LIVE_AGENT_ID",
	"VOICE_LIVE_ACCESS_TOKEN",
	"SESSION_VOICE_NAME",
	"SESSION_VOICE_TEMPERATURE",
	"PSTN_GATEWAY_MIN_SPEECH",
	"PSTN_GATEWAY_INTERRUPT_COOLDOWN",
	"PSTN_GATEWAY_TTS_STOP_TAIL",
	"PSTN_GATEWAY_DISCONNECT_GRACE",
	"PSTN_GATEWAY_TRANSCRIPT_FLUSH_DELAY",
	"PSTN_GATEWAY_TRANSCRIPT_MAX_BATCH",
	"PSTN_GATEWAY_RECORDINGS_DIR",
	"PSTN_GATEWAY_MIN_RECORDING_BYTES",
	"PSTN_GATEWAY_ENCODER_STOP_TIMEOUT",
	"PSTN_GATEWAY_FFMPEG_PATH",
	"PSTN_GATEWAY_SAMPLE_RATE",
	"DATABASE_URL",
	"RECORDINGS_S3_BUCKET",
	"RECORDINGS_S3_REGION",
	"PSTN_GATEWAY_WS_PING_INTERVAL",
	"PSTN_GATEWAY_WS_WRITE_TIMEOUT",
	"PSTN_GATEWAY_READ_HEADER_TIMEOUT",
	"PSTN_GATEWAY_SHUTDOWN_GRACE_PERIOD",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("PSTN_GATEWAY_BASE_URL", "https://gateway.example.com")
	t.Setenv("ACS_CONNECTION_STRING", "endpoint=https://acs.example.com;accesskey=c2VjcmV0")
	t.Setenv("VOICE_LIVE_ENDPOINT", "https://proj.services.ai.azure.com")
	t.Setenv("VOICE_LIVE_ACCESS_TOKEN", "tok")
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.MinSpeech != 250*time.Millisecond {
		t.Errorf("MinSpeech = %v, want 250ms", cfg.MinSpeech)
	}
	if cfg.InterruptCooldown != time.Second {
		t.Errorf("InterruptCooldown = %v, want 1s", cfg.InterruptCooldown)
	}
	if cfg.DisconnectGrace != 5*time.Second {
		t.Errorf("DisconnectGrace = %v, want 5s", cfg.DisconnectGrace)
	}
	if cfg.TranscriptMaxBatchSize != 20 {
		t.Errorf("TranscriptMaxBatchSize = %d, want 20", cfg.TranscriptMaxBatchSize)
	}
	if cfg.MinRecordingBytes != 1024 {
		t.Errorf("MinRecordingBytes = %d, want 1024", cfg.MinRecordingBytes)
	}
	if cfg.SampleRate != 24000 {
		t.Errorf("SampleRate = %d, want 24000", cfg.SampleRate)
	}
	if cfg.VoiceLiveAPIVersion != "2025-05-01-preview" {
		t.Errorf("VoiceLiveAPIVersion = %q", cfg.VoiceLiveAPIVersion)
	}
	if cfg.VoiceName != "en-US-Ava:DragonHDLatestNeural" {
		t.Errorf("VoiceName = %q", cfg.VoiceName)
	}
	if cfg.DatabaseURL != "" || cfg.S3Bucket != "" {
		t.Error("Expected persistence disabled by default")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	setRequired(t)
	t.Setenv("PSTN_GATEWAY_MIN_SPEECH", "400ms")
	t.Setenv("PSTN_GATEWAY_TTS_STOP_TAIL", "150ms")
	t.Setenv("PSTN_GATEWAY_TRANSCRIPT_MAX_BATCH", "5")
	t.Setenv("SESSION_VOICE_TEMPERATURE", "1.1")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.MinSpeech != 400*time.Millisecond {
		t.Errorf("MinSpeech = %v, want 400ms", cfg.MinSpeech)
	}
	if cfg.TTSStopTail != 150*time.Millisecond {
		t.Errorf("TTSStopTail = %v, want 150ms", cfg.TTSStopTail)
	}
	if cfg.TranscriptMaxBatchSize != 5 {
		t.Errorf("TranscriptMaxBatchSize = %d, want 5", cfg.TranscriptMaxBatchSize)
	}
	if cfg.VoiceTemperature != 1.1 {
		t.Errorf("VoiceTemperature = %v, want 1.1", cfg.VoiceTemperature)
	}
}

func TestLoadFromEnv_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T)
		wantErr string
	}{
		{
			name:    "missing base url",
			mutate:  func(t *testing.T) { t.Setenv("PSTN_GATEWAY_BASE_URL", "") },
			wantErr: "PSTN_GATEWAY_BASE_URL",
		},
		{
			name:    "http base url",
			mutate:  func(t *testing.T) { t.Setenv("PSTN_GATEWAY_BASE_URL", "http://gateway.example.com") },
			wantErr: "https",
		},
		{
			name:    "missing acs connection string",
			mutate:  func(t *testing.T) { t.Setenv("ACS_CONNECTION_STRING", "") },
			wantErr: "ACS_CONNECTION_STRING",
		},
		{
			name:    "missing voice live endpoint",
			mutate:  func(t *testing.T) { t.Setenv("VOICE_LIVE_ENDPOINT", "") },
			wantErr: "VOICE_LIVE_ENDPOINT",
		},
		{
			name:    "missing access token",
			mutate:  func(t *testing.T) { t.Setenv("VOICE_LIVE_ACCESS_TOKEN", "") },
			wantErr: "VOICE_LIVE_ACCESS_TOKEN",
		},
		{
			name:    "negative min speech",
			mutate:  func(t *testing.T) { t.Setenv("PSTN_GATEWAY_MIN_SPEECH", "-1s") },
			wantErr: "PSTN_GATEWAY_MIN_SPEECH",
		},
		{
			name:    "zero batch size",
			mutate:  func(t *testing.T) { t.Setenv("PSTN_GATEWAY_TRANSCRIPT_MAX_BATCH", "0") },
			wantErr: "PSTN_GATEWAY_TRANSCRIPT_MAX_BATCH",
		},
		{
			name:    "temperature out of range",
			mutate:  func(t *testing.T) { t.Setenv("SESSION_VOICE_TEMPERATURE", "3.5") },
			wantErr: "SESSION_VOICE_TEMPERATURE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setRequired(t)
			tt.mutate(t)

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_URLHelpers(t *testing.T) {
	clearEnv(t)
	setRequired(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	got := cfg.CallbackURL("ctx-1", "+14255550123")
	want := "https://gateway.example.com/api/callbacks/ctx-1?callerId=%2B14255550123"
	if got != want {
		t.Errorf("CallbackURL = %q, want %q", got, want)
	}

	if ws := cfg.MediaWebsocketURL(); ws != "wss://gateway.example.com/ws" {
		t.Errorf("MediaWebsocketURL = %q", ws)
	}
}
