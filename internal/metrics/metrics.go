// Package metrics exposes the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pstn_gateway_active_sessions",
		Help: "Number of call sessions currently being relayed.",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstn_gateway_sessions_total",
		Help: "Finished call sessions by terminal status.",
	}, []string{"status"})

	InterruptionsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pstn_gateway_interruptions_confirmed_total",
		Help: "Barge-in attempts that met the confirmation window and interrupted a response.",
	})

	InterruptionsDismissed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pstn_gateway_interruptions_dismissed_total",
		Help: "Barge-in attempts dismissed as sub-threshold blips.",
	})

	StaleAudioDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pstn_gateway_stale_audio_deltas_dropped_total",
		Help: "Response audio chunks dropped because their response was canceled or superseded.",
	})

	RecordingBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pstn_gateway_recording_bytes_total",
		Help: "Raw PCM bytes accepted into recording pipelines.",
	})

	TranscriptFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstn_gateway_transcript_flushes_total",
		Help: "Transcript batch flushes by outcome.",
	}, []string{"outcome"})

	ArtifactUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pstn_gateway_artifact_uploads_total",
		Help: "Recording artifact uploads by outcome.",
	}, []string{"outcome"})
)
