// Package config handles application configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	appName        = "voxcall"
	configFileName = "config.json"
)

// Defaults for a 24 kHz mono PCM16 pipeline. A frame is 100 ms of
// audio: 24000 samples/s * 2 bytes / 10.
const (
	DefaultSampleRate = 24000
	DefaultFrameSize  = 4800
)

// Config represents the application configuration. The API key is
// deliberately not part of it; that comes from the environment.
type Config struct {
	// RealtimeURL is the websocket endpoint of the conversation service.
	RealtimeURL string `json:"realtime_url"`
	// RealtimeModel and RealtimeVoice select the conversation model.
	RealtimeModel string `json:"realtime_model"`
	RealtimeVoice string `json:"realtime_voice"`

	// TranscribeURL is the websocket endpoint of the transcription service.
	TranscribeURL string `json:"transcribe_url"`

	SampleRate int `json:"sample_rate"`
	FrameSize  int `json:"frame_size"`

	RingMillis          int `json:"ring_millis"`
	RetryIntervalMillis int `json:"retry_interval_millis"`
	MaxRetries          int `json:"max_retries"`

	// SuppressEmptyTranscripts drops transcript updates with empty text
	// instead of recording them as (empty) lines.
	SuppressEmptyTranscripts bool `json:"suppress_empty_transcripts"`

	// HistoryDir overrides where call transcripts are stored. Empty
	// means a "history" directory next to the config file.
	HistoryDir string `json:"history_dir,omitempty"`
	// HistoryLimit caps how many calls the history command lists.
	HistoryLimit int `json:"history_limit"`
}

// Load loads configuration from the config file.
// Returns default config if file doesn't exist.
func Load() (*Config, error) {
	path, err := configPath()
	if err != nil {
		return nil, fmt.Errorf("get config path: %w", err)
	}
	return LoadFrom(path)
}

// LoadFrom loads configuration from an explicit path.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

// Save persists the configuration to disk.
func (c *Config) Save() error {
	path, err := configPath()
	if err != nil {
		return fmt.Errorf("get config path: %w", err)
	}
	return c.SaveTo(path)
}

// SaveTo persists the configuration to an explicit path.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		RealtimeURL:         "wss://api.openai.com/v1/realtime",
		RealtimeModel:       "gpt-4o-realtime-preview",
		RealtimeVoice:       "alloy",
		TranscribeURL:       "ws://localhost:8000/ws/transcribe",
		SampleRate:          DefaultSampleRate,
		FrameSize:           DefaultFrameSize,
		RingMillis:          2000,
		RetryIntervalMillis: 1000,
		MaxRetries:          3,
		HistoryLimit:        20,
	}
}

// applyDefaults fills zero-valued fields a hand-edited file may have
// omitted.
func (c *Config) applyDefaults() {
	def := Default()
	if c.RealtimeURL == "" {
		c.RealtimeURL = def.RealtimeURL
	}
	if c.RealtimeModel == "" {
		c.RealtimeModel = def.RealtimeModel
	}
	if c.RealtimeVoice == "" {
		c.RealtimeVoice = def.RealtimeVoice
	}
	if c.TranscribeURL == "" {
		c.TranscribeURL = def.TranscribeURL
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	if c.FrameSize <= 0 {
		c.FrameSize = def.FrameSize
	}
	if c.RingMillis <= 0 {
		c.RingMillis = def.RingMillis
	}
	if c.RetryIntervalMillis <= 0 {
		c.RetryIntervalMillis = def.RetryIntervalMillis
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
}

// RingDuration is how long the ring cue plays before recording starts.
func (c *Config) RingDuration() time.Duration {
	return time.Duration(c.RingMillis) * time.Millisecond
}

// RetryInterval is the wait between transcription reconnect attempts.
func (c *Config) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMillis) * time.Millisecond
}

// HistoryPath resolves the call-history directory, creating nothing.
func (c *Config) HistoryPath() (string, error) {
	if c.HistoryDir != "" {
		return c.HistoryDir, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, "history"), nil
}

func configPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, appName, configFileName), nil
}
