package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const (
	testWatch     = 30 * time.Second
	testCountdown = 10 * time.Second
)

func newTestReengager(clock *fakeClock) (*Reengager, *int, *sync.Mutex) {
	var mu sync.Mutex
	engaged := 0
	r := NewReengager(clock, testWatch, testCountdown, func() {
		mu.Lock()
		engaged++
		mu.Unlock()
	})
	return r, &engaged, &mu
}

func TestReengagerFullCycle(t *testing.T) {
	clock := newFakeClock()
	r, engaged, mu := newTestReengager(clock)

	assert.Equal(t, ReengageIdle, r.Phase())
	r.Request("turn-done")
	assert.Equal(t, ReengageWatching, r.Phase())

	clock.Advance(testWatch)
	assert.Equal(t, ReengageCountdown, r.Phase())

	clock.Advance(testCountdown)
	assert.Equal(t, ReengageIdle, r.Phase())
	mu.Lock()
	assert.Equal(t, 1, *engaged)
	mu.Unlock()
}

func TestReengagerCancelDuringWatch(t *testing.T) {
	clock := newFakeClock()
	r, engaged, mu := newTestReengager(clock)

	r.Request("turn-done")
	r.Cancel()
	assert.Equal(t, ReengageIdle, r.Phase())

	clock.Advance(testWatch + testCountdown)
	assert.Equal(t, ReengageIdle, r.Phase())
	mu.Lock()
	assert.Zero(t, *engaged)
	mu.Unlock()
}

func TestReengagerCancelDuringCountdown(t *testing.T) {
	clock := newFakeClock()
	r, engaged, mu := newTestReengager(clock)

	r.Request("turn-done")
	clock.Advance(testWatch)
	assert.Equal(t, ReengageCountdown, r.Phase())

	r.Cancel()
	clock.Advance(testCountdown)
	assert.Equal(t, ReengageIdle, r.Phase())
	mu.Lock()
	assert.Zero(t, *engaged)
	mu.Unlock()
}

func TestReengagerRequestRestartsWatch(t *testing.T) {
	clock := newFakeClock()
	r, engaged, mu := newTestReengager(clock)

	r.Request("turn-done")
	clock.Advance(testWatch / 2)
	r.Request("another-turn")

	clock.Advance(testWatch / 2)
	assert.Equal(t, ReengageWatching, r.Phase(), "a fresh request re-arms the full watch")

	clock.Advance(testWatch / 2)
	assert.Equal(t, ReengageCountdown, r.Phase())
	clock.Advance(testCountdown)
	assert.Equal(t, ReengageIdle, r.Phase())
	mu.Lock()
	assert.Equal(t, 1, *engaged)
	mu.Unlock()
}

func TestReengagerSetCountdown(t *testing.T) {
	clock := newFakeClock()
	r, _, _ := newTestReengager(clock)

	r.SetCountdown(time.Second)
	assert.Equal(t, testCountdown, r.countdown, "below-minimum intervals are ignored")

	r.SetCountdown(minReengageCountdown)
	assert.Equal(t, minReengageCountdown, r.countdown)
}

func TestReengagePhaseString(t *testing.T) {
	assert.Equal(t, "idle", ReengageIdle.String())
	assert.Equal(t, "watching", ReengageWatching.String())
	assert.Equal(t, "countdown", ReengageCountdown.String())
	assert.Equal(t, "engaging", ReengageEngaging.String())
}

func TestAutoSenderFiresAfterSilence(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	var fired []string
	a := NewAutoSender(clock, 2*time.Second, func(text string) {
		mu.Lock()
		fired = append(fired, text)
		mu.Unlock()
	})

	a.NoteTranscript("hola")
	clock.Advance(time.Second)
	a.NoteTranscript("hola profesor")
	clock.Advance(time.Second)
	mu.Lock()
	assert.Empty(t, fired, "each fragment re-arms the silence timer")
	mu.Unlock()

	clock.Advance(time.Second)
	mu.Lock()
	assert.Equal(t, []string{"hola profesor"}, fired, "the latest transcript is sent")
	mu.Unlock()
}

func TestAutoSenderCancel(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	fired := 0
	a := NewAutoSender(clock, time.Second, func(string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	a.NoteTranscript("hola")
	a.Cancel()
	clock.Advance(2 * time.Second)
	mu.Lock()
	assert.Zero(t, fired)
	mu.Unlock()
}

func TestAutoSenderEmptyTranscriptCancels(t *testing.T) {
	clock := newFakeClock()
	var mu sync.Mutex
	fired := 0
	a := NewAutoSender(clock, time.Second, func(string) {
		mu.Lock()
		fired++
		mu.Unlock()
	})

	a.NoteTranscript("hola")
	a.NoteTranscript("")
	clock.Advance(2 * time.Second)
	mu.Lock()
	assert.Zero(t, fired)
	mu.Unlock()
}
