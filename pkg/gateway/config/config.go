package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicBaseURL is the externally reachable https base of this gateway,
	// used to build the Event Grid callback and media websocket URLs.
	PublicBaseURL string

	// Telephony (Azure Communication Services).
	ACSConnectionString string

	// Speech backend (Voice Live realtime).
	VoiceLiveEndpoint    string
	VoiceLiveAPIVersion  string
	VoiceLiveProjectName string
	VoiceLiveAgentID     string
	VoiceLiveAccessToken string
	VoiceName            string
	VoiceTemperature     float64

	// Barge-in arbitration.
	MinSpeech         time.Duration
	InterruptCooldown time.Duration
	TTSStopTail       time.Duration
	DisconnectGrace   time.Duration

	// Transcript batching.
	TranscriptFlushDelay   time.Duration
	TranscriptMaxBatchSize int

	// Recording pipeline.
	RecordingsDir      string
	MinRecordingBytes  int64
	EncoderStopTimeout time.Duration
	FFmpegPath         string
	SampleRate         int

	// Persistence. Empty DatabaseURL disables session/transcript storage;
	// empty S3Bucket disables artifact upload.
	DatabaseURL string
	S3Bucket    string
	S3Region    string

	// Media websocket.
	WSPingInterval time.Duration
	WSWriteTimeout time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                   envOr("PSTN_GATEWAY_ADDR", ":8080"),
		PublicBaseURL:          strings.TrimRight(envOr("PSTN_GATEWAY_BASE_URL", ""), "/"),
		ACSConnectionString:    envOr("ACS_CONNECTION_STRING", ""),
		VoiceLiveEndpoint:      envOr("VOICE_LIVE_ENDPOINT", ""),
		VoiceLiveAPIVersion:    envOr("VOICE_LIVE_API_VERSION", "2025-05-01-preview"),
		VoiceLiveProjectName:   envOr("VOICE_LIVE_PROJECT_NAME", ""),
		VoiceLiveAgentID:       envOr("VOICE_LIVE_AGENT_ID", ""),
		VoiceLiveAccessToken:   envOr("VOICE_LIVE_ACCESS_TOKEN", ""),
		VoiceName:              envOr("SESSION_VOICE_NAME", "en-US-Ava:DragonHDLatestNeural"),
		VoiceTemperature:       envFloat64Or("SESSION_VOICE_TEMPERATURE", 0.8),
		MinSpeech:              envDurationOr("PSTN_GATEWAY_MIN_SPEECH", 250*time.Millisecond),
		InterruptCooldown:      envDurationOr("PSTN_GATEWAY_INTERRUPT_COOLDOWN", time.Second),
		TTSStopTail:            envDurationOr("PSTN_GATEWAY_TTS_STOP_TAIL", 0),
		DisconnectGrace:        envDurationOr("PSTN_GATEWAY_DISCONNECT_GRACE", 5*time.Second),
		TranscriptFlushDelay:   envDurationOr("PSTN_GATEWAY_TRANSCRIPT_FLUSH_DELAY", 2*time.Second),
		TranscriptMaxBatchSize: envIntOr("PSTN_GATEWAY_TRANSCRIPT_MAX_BATCH", 20),
		RecordingsDir:          envOr("PSTN_GATEWAY_RECORDINGS_DIR", os.TempDir()),
		MinRecordingBytes:      envInt64Or("PSTN_GATEWAY_MIN_RECORDING_BYTES", 1024),
		EncoderStopTimeout:     envDurationOr("PSTN_GATEWAY_ENCODER_STOP_TIMEOUT", 5*time.Second),
		FFmpegPath:             envOr("PSTN_GATEWAY_FFMPEG_PATH", "ffmpeg"),
		SampleRate:             envIntOr("PSTN_GATEWAY_SAMPLE_RATE", 24000),
		DatabaseURL:            envOr("DATABASE_URL", ""),
		S3Bucket:               envOr("RECORDINGS_S3_BUCKET", ""),
		S3Region:               envOr("RECORDINGS_S3_REGION", "us-east-1"),
		WSPingInterval:         envDurationOr("PSTN_GATEWAY_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:         envDurationOr("PSTN_GATEWAY_WS_WRITE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:      envDurationOr("PSTN_GATEWAY_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:    envDurationOr("PSTN_GATEWAY_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if cfg.PublicBaseURL == "" {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_BASE_URL must be set")
	}
	if !strings.HasPrefix(cfg.PublicBaseURL, "https://") {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_BASE_URL must be an https URL")
	}
	if cfg.ACSConnectionString == "" {
		return Config{}, fmt.Errorf("ACS_CONNECTION_STRING must be set")
	}
	if cfg.VoiceLiveEndpoint == "" {
		return Config{}, fmt.Errorf("VOICE_LIVE_ENDPOINT must be set")
	}
	if cfg.VoiceLiveAccessToken == "" {
		return Config{}, fmt.Errorf("VOICE_LIVE_ACCESS_TOKEN must be set")
	}
	if cfg.VoiceTemperature < 0 || cfg.VoiceTemperature > 2 {
		return Config{}, fmt.Errorf("SESSION_VOICE_TEMPERATURE must be in [0, 2]")
	}
	if cfg.MinSpeech <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_MIN_SPEECH must be > 0")
	}
	if cfg.InterruptCooldown <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_INTERRUPT_COOLDOWN must be > 0")
	}
	if cfg.TTSStopTail < 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_TTS_STOP_TAIL must be >= 0")
	}
	if cfg.DisconnectGrace <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_DISCONNECT_GRACE must be > 0")
	}
	if cfg.TranscriptFlushDelay <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_TRANSCRIPT_FLUSH_DELAY must be > 0")
	}
	if cfg.TranscriptMaxBatchSize <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_TRANSCRIPT_MAX_BATCH must be > 0")
	}
	if cfg.MinRecordingBytes <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_MIN_RECORDING_BYTES must be > 0")
	}
	if cfg.EncoderStopTimeout <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_ENCODER_STOP_TIMEOUT must be > 0")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_SAMPLE_RATE must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("PSTN_GATEWAY_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

// CallbackURL builds the per-call lifecycle callback URL.
func (c Config) CallbackURL(contextID, callerID string) string {
	return c.PublicBaseURL + "/api/callbacks/" + contextID + "?callerId=" + url.QueryEscape(callerID)
}

// MediaWebsocketURL is the wss URL the telephony service streams media to.
func (c Config) MediaWebsocketURL() string {
	return "wss://" + strings.TrimPrefix(c.PublicBaseURL, "https://") + "/ws"
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
