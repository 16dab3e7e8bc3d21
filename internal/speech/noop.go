package speech

import "context"

// NoopSynthesizer satisfies Synthesizer for headless runs where no
// audio backend is wired.
type NoopSynthesizer struct{}

func (NoopSynthesizer) Synthesize(ctx context.Context, text, lang string) ([]byte, error) {
	return []byte{}, nil
}

func (NoopSynthesizer) Play(ctx context.Context, audio []byte) error {
	return nil
}
