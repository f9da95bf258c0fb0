package bridge

import (
	"sync"
	"time"
)

// interruptState is the arbiter's position in the barge-in lifecycle.
type interruptState int

const (
	// interruptIdle means no caller speech is being evaluated.
	interruptIdle interruptState = iota
	// interruptPending means speech started during an active response and
	// the confirmation window is running.
	interruptPending
	// interruptCooldown means an interruption just fired and new speech
	// events are suppressed until the cooldown elapses.
	interruptCooldown
)

func (s interruptState) String() string {
	switch s {
	case interruptIdle:
		return "idle"
	case interruptPending:
		return "pending"
	case interruptCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// InterruptDetector arbitrates whether caller speech during an active
// response is a genuine barge-in or a transient blip.
//
// The flow is:
//  1. Speech starts while a response is playing → confirmation window opens
//  2. Window elapses with speech ongoing → interruption confirmed
//  3. Speech stops before the window elapses → dismissed as a blip, unless
//     the speech already lasted at least the window (early confirmation)
//  4. Confirmed interruptions fire at most once per response, then enter a
//     cooldown during which new speech is ignored
type InterruptDetector struct {
	minSpeech time.Duration
	cooldown  time.Duration

	mu            sync.Mutex
	state         interruptState
	speechStart   time.Time
	confirmTimer  *time.Timer
	cooldownTimer *time.Timer
	firedThisResp bool

	onConfirmed func()
	onDismissed func(reason string)
}

// NewInterruptDetector creates a detector with the given confirmation
// window and cooldown.
func NewInterruptDetector(minSpeech, cooldown time.Duration) *InterruptDetector {
	return &InterruptDetector{
		minSpeech: minSpeech,
		cooldown:  cooldown,
	}
}

// SetCallbacks sets the outcome callbacks. onConfirmed runs off the
// detector's lock; it may fire from the confirmation timer goroutine.
func (d *InterruptDetector) SetCallbacks(onConfirmed func(), onDismissed func(reason string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onConfirmed = onConfirmed
	d.onDismissed = onDismissed
}

// OnResponseStarted re-arms the once-per-response gate. A new response
// means a new opportunity to interrupt.
func (d *InterruptDetector) OnResponseStarted() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.firedThisResp = false
}

// OnSpeechStarted opens the confirmation window. hasActiveResponse is
// whether a response is currently streaming; speech while the assistant is
// silent is an ordinary turn, not a barge-in.
func (d *InterruptDetector) OnSpeechStarted(hasActiveResponse bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !hasActiveResponse {
		return
	}
	if d.state != interruptIdle {
		return
	}
	if d.firedThisResp {
		return
	}

	d.state = interruptPending
	d.speechStart = time.Now()
	d.confirmTimer = time.AfterFunc(d.minSpeech, d.confirm)
}

// OnSpeechStopped closes the confirmation window. Speech that already met
// the minimum duration confirms immediately; shorter speech is dismissed.
func (d *InterruptDetector) OnSpeechStopped() {
	d.mu.Lock()
	if d.state != interruptPending {
		d.mu.Unlock()
		return
	}
	if d.confirmTimer != nil {
		d.confirmTimer.Stop()
	}

	if time.Since(d.speechStart) >= d.minSpeech {
		d.confirmLocked()
		return
	}

	d.state = interruptIdle
	callback := d.onDismissed
	d.mu.Unlock()

	if callback != nil {
		callback("below_threshold")
	}
}

// confirm is the confirmation timer's target.
func (d *InterruptDetector) confirm() {
	d.mu.Lock()
	if d.state != interruptPending {
		// Lost the race against OnSpeechStopped or Reset.
		d.mu.Unlock()
		return
	}
	d.confirmLocked()
}

// confirmLocked transitions pending → cooldown and fires onConfirmed.
// Callers must hold d.mu; it is released before the callback runs.
func (d *InterruptDetector) confirmLocked() {
	d.firedThisResp = true
	d.state = interruptCooldown
	d.cooldownTimer = time.AfterFunc(d.cooldown, d.endCooldown)
	callback := d.onConfirmed
	d.mu.Unlock()

	if callback != nil {
		callback()
	}
}

func (d *InterruptDetector) endCooldown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == interruptCooldown {
		d.state = interruptIdle
	}
}

// Reset cancels any pending window and timers without firing callbacks.
func (d *InterruptDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.confirmTimer != nil {
		d.confirmTimer.Stop()
	}
	if d.cooldownTimer != nil {
		d.cooldownTimer.Stop()
	}
	d.state = interruptIdle
	d.firedThisResp = false
}

// IsPending reports whether a confirmation window is open.
func (d *InterruptDetector) IsPending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == interruptPending
}

// InCooldown reports whether the post-interruption cooldown is running.
func (d *InterruptDetector) InCooldown() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == interruptCooldown
}
