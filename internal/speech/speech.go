// Package speech is the boundary to the speech subsystem: synthesis
// dispatch with a content-fingerprinted audio cache, and the recognizer
// contract the orchestrator drives.
package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"lingua/internal/logging"
)

// Part is one speakable fragment with its language tag.
type Part struct {
	Text string
	Lang string
}

// Synthesizer turns text into audio. Implementations are external; the
// dispatcher only sequences and caches.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
	Play(ctx context.Context, audio []byte) error
}

// Recognizer is the speech-to-text boundary.
type Recognizer interface {
	Start(ctx context.Context) error
	Stop()
	Active() bool
	Transcript() string
	ClearTranscript()
}

// CacheFunc receives synthesized audio for a sentence so callers can
// persist it; repeated playback of the same fingerprint never
// re-synthesizes.
type CacheFunc func(index int, key string, audio []byte)

// CacheLookup returns previously cached audio for a fingerprint.
type CacheLookup func(key string) ([]byte, bool)

// Fingerprint keys cached audio by content, language, provider and
// voice, so provider or voice changes never serve stale audio.
func Fingerprint(text, lang, provider, voice string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%s", text, lang, provider, voice)))
	return hex.EncodeToString(sum[:16])
}

// Dispatcher sequences synthesis and playback for the parts of one
// message.
type Dispatcher struct {
	mu       sync.Mutex
	synth    Synthesizer
	provider string
	voice    string
	speaking bool
	stop     context.CancelFunc
}

// NewDispatcher wraps a synthesizer with the given provider/voice
// fingerprint identity.
func NewDispatcher(s Synthesizer, provider, voice string) *Dispatcher {
	return &Dispatcher{synth: s, provider: provider, voice: voice}
}

// Speaking reports whether playback is in progress.
func (d *Dispatcher) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Stop interrupts any in-progress playback.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stop != nil {
		d.stop()
	}
	d.mu.Unlock()
}

// Speak synthesizes and plays parts in order. lookup short-circuits
// synthesis on a cache hit; cache receives any newly synthesized audio.
func (d *Dispatcher) Speak(ctx context.Context, parts []Part, defaultLang string, lookup CacheLookup, cache CacheFunc) error {
	d.mu.Lock()
	if d.speaking {
		d.mu.Unlock()
		return fmt.Errorf("already speaking")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.speaking = true
	d.stop = cancel
	d.mu.Unlock()

	defer func() {
		cancel()
		d.mu.Lock()
		d.speaking = false
		d.stop = nil
		d.mu.Unlock()
	}()

	log := logging.L(logging.CategorySpeech)
	for i, part := range parts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lang := part.Lang
		if lang == "" {
			lang = defaultLang
		}
		key := Fingerprint(part.Text, lang, d.provider, d.voice)

		var audio []byte
		if lookup != nil {
			if cached, ok := lookup(key); ok {
				audio = cached
			}
		}
		if audio == nil {
			synthesized, err := d.synth.Synthesize(ctx, part.Text, lang)
			if err != nil {
				return fmt.Errorf("synthesize part %d: %w", i, err)
			}
			audio = synthesized
			if cache != nil {
				cache(i, key, audio)
			}
		}
		if err := d.synth.Play(ctx, audio); err != nil {
			log.Warn("playback failed", zap.Int("part", i), zap.Error(err))
			return err
		}
	}
	return nil
}
