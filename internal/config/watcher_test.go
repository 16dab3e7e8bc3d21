package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "lingua.yaml")
	require.NoError(t, os.WriteFile(path, []byte("conversation:\n  target_language: es\n"), 0o644))

	changed := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give the watch a moment to settle before mutating the file.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("conversation:\n  target_language: fr\n"), 0o644))

	select {
	case cfg := <-changed:
		assert.Equal(t, "fr", cfg.Conversation.TargetLanguage)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lingua.yaml")
	require.NoError(t, os.WriteFile(path, []byte(""), 0o644))

	changed := make(chan struct{}, 1)
	w, err := NewWatcher(path, func(*Config) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("x"), 0o644))

	select {
	case <-changed:
		t.Fatal("unrelated file must not trigger a reload")
	case <-time.After(600 * time.Millisecond):
	}
}
