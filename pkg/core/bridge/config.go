package bridge

import "time"

// Config tunes per-session relay behavior.
type Config struct {
	// MinSpeech is how long caller speech must persist during an active
	// response before it counts as a barge-in.
	MinSpeech time.Duration

	// InterruptCooldown suppresses new barge-in attempts for this long
	// after a confirmed interruption.
	InterruptCooldown time.Duration

	// TTSStopTail is an optional settle delay between clearing the input
	// buffer and committing it during an interruption, covering telephony
	// playback that drains slightly behind the stop marker.
	TTSStopTail time.Duration

	// DisconnectGrace is how long a session stays finalizable-but-open
	// after its media transport closes, so a late disconnect callback or
	// trailing transcript events still land on the live session.
	DisconnectGrace time.Duration
}

// DefaultConfig returns relay defaults.
func DefaultConfig() Config {
	return Config{
		MinSpeech:         250 * time.Millisecond,
		InterruptCooldown: time.Second,
		TTSStopTail:       0,
		DisconnectGrace:   5 * time.Second,
	}
}
