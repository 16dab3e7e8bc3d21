// Package config loads lingua configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all lingua configuration.
type Config struct {
	Conversation ConversationConfig `yaml:"conversation"`
	LLM          LLMConfig          `yaml:"llm"`
	Storage      StorageConfig      `yaml:"storage"`
	Speech       SpeechConfig       `yaml:"speech"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ConversationConfig tunes tutoring behaviour.
type ConversationConfig struct {
	TargetLanguage    string `yaml:"target_language"`
	NativeLanguage    string `yaml:"native_language"`
	NativePrefix      string `yaml:"native_prefix"` // line prefix marking native-language halves
	MaxVisibleTurns   int    `yaml:"max_visible_turns"`
	SystemInstruction string `yaml:"system_instruction"`
	AutoSnapshot      bool   `yaml:"auto_snapshot"`
	SpeakNative       bool   `yaml:"speak_native"`
	ImageGeneration   bool   `yaml:"image_generation"`
	// Re-engagement delays, seconds.
	ReengageWatchSeconds     int `yaml:"reengage_watch_seconds"`
	ReengageCountdownSeconds int `yaml:"reengage_countdown_seconds"`
}

// LLMConfig configures the generation service.
type LLMConfig struct {
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	ImageModel   string `yaml:"image_model"`
	BaseURL      string `yaml:"base_url"`
	Timeout      string `yaml:"timeout"`
	EnableSearch bool   `yaml:"enable_search"`
}

// StorageConfig configures persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// SpeechConfig identifies the synthesis provider and voice; both feed
// the audio cache fingerprint.
type SpeechConfig struct {
	Provider string `yaml:"provider"`
	Voice    string `yaml:"voice"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Conversation: ConversationConfig{
			TargetLanguage:           "es",
			NativeLanguage:           "en",
			NativePrefix:             "[EN]",
			MaxVisibleTurns:          20,
			AutoSnapshot:             false,
			SpeakNative:              false,
			ImageGeneration:          false,
			ReengageWatchSeconds:     30,
			ReengageCountdownSeconds: 60,
		},
		LLM: LLMConfig{
			Model:      "gemini-2.5-flash",
			ImageModel: "gemini-2.5-flash-image",
			Timeout:    "3m",
		},
		Storage: StorageConfig{
			DatabasePath: "lingua.db",
		},
		Speech: SpeechConfig{
			Provider: "system",
			Voice:    "default",
		},
	}
}

// Load reads a YAML config file over the defaults. A missing file is not
// an error: defaults plus environment apply. GEMINI_API_KEY overrides
// the configured key.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}

	if cfg.Conversation.MaxVisibleTurns <= 0 {
		cfg.Conversation.MaxVisibleTurns = 20
	}
	if cfg.Conversation.NativePrefix == "" {
		cfg.Conversation.NativePrefix = "[EN]"
	}
	return cfg, nil
}

// LLMTimeout parses the configured timeout, falling back to 3 minutes.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 3 * time.Minute
	}
	return d
}
