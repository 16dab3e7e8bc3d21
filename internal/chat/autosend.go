package chat

import (
	"sync"
	"time"
)

// AutoSender sends the accumulated recognition transcript after a
// period of silence. Each new transcript fragment re-arms the timer;
// cancellation is timer invalidation only, matching the engine's
// no-mid-flight-cancellation rule.
type AutoSender struct {
	mu      sync.Mutex
	clock   Clock
	delay   time.Duration
	timer   Timer
	pending string
	fire    func(transcript string)
}

// NewAutoSender builds an auto-send-on-silence machine. fire runs on a
// timer goroutine with the latest transcript.
func NewAutoSender(clock Clock, delay time.Duration, fire func(string)) *AutoSender {
	if clock == nil {
		clock = SystemClock()
	}
	return &AutoSender{clock: clock, delay: delay, fire: fire}
}

// NoteTranscript records the latest transcript and re-arms the silence
// timer. Empty transcripts cancel instead.
func (a *AutoSender) NoteTranscript(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.pending = text
	if text == "" {
		return
	}
	a.timer = a.clock.AfterFunc(a.delay, a.expired)
}

// Cancel invalidates any armed timer.
func (a *AutoSender) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
	a.pending = ""
}

func (a *AutoSender) expired() {
	a.mu.Lock()
	text := a.pending
	a.pending = ""
	a.timer = nil
	a.mu.Unlock()
	if text != "" && a.fire != nil {
		a.fire(text)
	}
}

func (a *AutoSender) stopLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}
