package chat

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"lingua/internal/logging"
)

// ReengagePhase is the re-engagement scheduler state.
type ReengagePhase int

const (
	ReengageIdle ReengagePhase = iota
	ReengageWatching
	ReengageCountdown
	ReengageEngaging
)

func (p ReengagePhase) String() string {
	switch p {
	case ReengageIdle:
		return "idle"
	case ReengageWatching:
		return "watching"
	case ReengageCountdown:
		return "countdown"
	case ReengageEngaging:
		return "engaging"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// minReengageCountdown is the lowest countdown a model-proposed
// interval may set.
const minReengageCountdown = 5 * time.Second

// Reengager proposes a follow-up turn after user idleness. It moves
// idle → watching → countdown → engaging → idle; any activity cancels
// back to idle from any state. At most one timer is armed at a time.
type Reengager struct {
	mu        sync.Mutex
	clock     Clock
	watch     time.Duration
	countdown time.Duration
	phase     ReengagePhase
	timer     Timer
	engage    func()
}

// NewReengager builds a scheduler. engage runs on a timer goroutine and
// should request a synthetic turn without blocking for long.
func NewReengager(clock Clock, watch, countdown time.Duration, engage func()) *Reengager {
	if clock == nil {
		clock = SystemClock()
	}
	return &Reengager{clock: clock, watch: watch, countdown: countdown, engage: engage}
}

// Phase returns the current phase.
func (r *Reengager) Phase() ReengagePhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Request starts watching for idleness. reason is logged only.
func (r *Reengager) Request(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
	r.phase = ReengageWatching
	r.timer = r.clock.AfterFunc(r.watch, r.watchExpired)
	logging.L(logging.CategoryReengage).Debug("watching", zap.String("reason", reason))
}

// Cancel drops back to idle from any state. Call on any user activity,
// speech, or an in-flight turn.
func (r *Reengager) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimerLocked()
	r.phase = ReengageIdle
}

// SetCountdown updates the countdown delay; values below the minimum
// are ignored.
func (r *Reengager) SetCountdown(d time.Duration) {
	if d < minReengageCountdown {
		return
	}
	r.mu.Lock()
	r.countdown = d
	r.mu.Unlock()
}

func (r *Reengager) watchExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != ReengageWatching {
		return
	}
	r.phase = ReengageCountdown
	r.timer = r.clock.AfterFunc(r.countdown, r.countdownExpired)
}

func (r *Reengager) countdownExpired() {
	r.mu.Lock()
	if r.phase != ReengageCountdown {
		r.mu.Unlock()
		return
	}
	r.phase = ReengageEngaging
	engage := r.engage
	r.mu.Unlock()

	logging.L(logging.CategoryReengage).Info("engaging after idleness")
	if engage != nil {
		engage()
	}

	r.mu.Lock()
	if r.phase == ReengageEngaging {
		r.phase = ReengageIdle
	}
	r.mu.Unlock()
}

func (r *Reengager) stopTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}
