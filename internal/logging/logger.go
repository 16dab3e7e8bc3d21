// Package logging provides categorized loggers for lingua, backed by zap.
// Each subsystem logs under its own named logger so a single category can
// be followed in the output without grepping across the whole stream.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category names one logging subsystem.
type Category string

const (
	CategoryTurn     Category = "turn"     // Turn orchestration state machine
	CategoryHistory  Category = "history"  // History store persistence
	CategoryMedia    Category = "media"    // Media lifecycle, uploads, liveness
	CategoryGemini   Category = "gemini"   // Remote generation / object store calls
	CategoryEnrich   Category = "enrich"   // Suggestions, image generation
	CategorySpeech   Category = "speech"   // Speech synthesis and recognition
	CategoryReengage Category = "reengage" // Idle re-engagement scheduler
	CategoryConfig   Category = "config"   // Configuration load/reload
)

var (
	mu   sync.RWMutex
	base = zap.NewNop()
)

// Init builds the process-wide logger. Verbose switches to development
// encoding with debug level enabled.
func Init(verbose bool) error {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return err
	}
	mu.Lock()
	base = logger
	mu.Unlock()
	return nil
}

// L returns the logger for a category.
func L(c Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.Named(string(c))
}

// Sync flushes buffered log entries. Safe to call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
