package chat

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"lingua/internal/gemini"
	"lingua/internal/speech"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// fakeGen scripts the generation service.
type fakeGen struct {
	mu    sync.Mutex
	calls []gemini.GenerateInput
	fn    func(in gemini.GenerateInput) (*gemini.GenerateResult, error)
}

func (g *fakeGen) Generate(ctx context.Context, in gemini.GenerateInput) (*gemini.GenerateResult, error) {
	g.mu.Lock()
	g.calls = append(g.calls, in)
	fn := g.fn
	g.mu.Unlock()
	if fn != nil {
		return fn(in)
	}
	return &gemini.GenerateResult{Text: "ok"}, nil
}

func (g *fakeGen) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

// fakeObjects is an in-memory object store that counts uploads.
type fakeObjects struct {
	mu         sync.Mutex
	uploads    int
	failUpload bool
	live       map[string]bool
	nextID     int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{live: make(map[string]bool)}
}

func (f *fakeObjects) Upload(ctx context.Context, data []byte, mimeType, label string) (*gemini.FileRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpload {
		return nil, fmt.Errorf("store rejected upload")
	}
	f.uploads++
	f.nextID++
	uri := fmt.Sprintf("files/fake-%d", f.nextID)
	f.live[uri] = true
	return &gemini.FileRef{URI: uri, Name: uri, MIMEType: mimeType}, nil
}

func (f *fakeObjects) CheckLive(ctx context.Context, uris []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]bool, len(uris))
	for _, u := range uris {
		out[u] = f.live[u]
	}
	return out, nil
}

func (f *fakeObjects) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, name)
	return nil
}

func (f *fakeObjects) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

// fakeSpeech records Speak calls. A non-nil block channel holds each
// Speak open until the channel is closed, standing in for playback time.
type fakeSpeech struct {
	mu       sync.Mutex
	speaking bool
	spoken   [][]speech.Part
	block    chan struct{}
}

func (s *fakeSpeech) Speak(ctx context.Context, parts []speech.Part, defaultLang string, lookup speech.CacheLookup, cache speech.CacheFunc) error {
	s.mu.Lock()
	s.spoken = append(s.spoken, parts)
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	return nil
}

func (s *fakeSpeech) Stop() {}

func (s *fakeSpeech) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

func (s *fakeSpeech) setSpeaking(v bool) {
	s.mu.Lock()
	s.speaking = v
	s.mu.Unlock()
}

// fakeRecognizer tracks start/stop.
type fakeRecognizer struct {
	mu      sync.Mutex
	active  bool
	stops   int
	starts  int
	text    string
	cleared bool
}

func (r *fakeRecognizer) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = true
	r.starts++
	return nil
}

func (r *fakeRecognizer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.stops++
}

func (r *fakeRecognizer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

func (r *fakeRecognizer) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.text
}

func (r *fakeRecognizer) ClearTranscript() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared = true
	r.text = ""
}

// fakeClock drives timer phase machines on virtual time. Sleep returns
// immediately so retry loops run fast.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Time
	f        func()
	stopped  bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

// Advance moves virtual time forward and fires due timers in deadline
// order, outside the lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	var rest []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.deadline.After(c.now) {
			due = append(due, t)
		} else if !t.stopped {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}
