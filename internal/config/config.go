package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete orchestrator configuration
type Config struct {
	Audio         AudioConfig         `yaml:"audio"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Orchestrator  OrchestratorConfig  `yaml:"orchestrator"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	TTS           TTSConfig           `yaml:"tts"`
	HTTP          HTTPConfig          `yaml:"http"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AudioConfig contains capture and encoding parameters
type AudioConfig struct {
	SampleRate        int `yaml:"sample_rate"`         // capture rate, Hz
	FrameSize         int `yaml:"frame_size"`          // samples per analysis frame
	ManualMaxDuration int `yaml:"manual_max_duration"` // seconds, manual recording cap
}

// SegmenterConfig contains speech segmentation parameters
type SegmenterConfig struct {
	ModelPath          string  `yaml:"model_path"` // silero_vad.onnx; empty selects the energy classifier
	PositiveThreshold  float32 `yaml:"positive_threshold"`
	NegativeThreshold  float32 `yaml:"negative_threshold"`
	RedemptionFrames   int     `yaml:"redemption_frames"`
	PreSpeechPadFrames int     `yaml:"pre_speech_pad_frames"`
	MinSpeechFrames    int     `yaml:"min_speech_frames"`
}

// OrchestratorConfig contains session state machine tuning
type OrchestratorConfig struct {
	RestartDebounceMs int  `yaml:"restart_debounce_ms"`
	HealthIntervalMs  int  `yaml:"health_interval_ms"`
	LevelIntervalMs   int  `yaml:"level_interval_ms"`
	SegmenterInitSec  int  `yaml:"segmenter_init_timeout"` // seconds
	AutoSpeech        bool `yaml:"auto_speech"`
	AutoEnable        bool `yaml:"auto_enable"`
}

// TranscriptionConfig contains transcription API configuration
type TranscriptionConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Language      string `yaml:"language"`
	Model         string `yaml:"model"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// TTSConfig contains the speech synthesis backend configuration
type TTSConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Voice          string `yaml:"voice"`
	Timeout        int    `yaml:"timeout"`         // seconds
	HealthInterval int    `yaml:"health_interval"` // seconds
}

// HTTPConfig contains diagnostics API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}

	if err := c.Orchestrator.Validate(); err != nil {
		return fmt.Errorf("orchestrator config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 16000 Hz for the speech pipeline, got %d", a.SampleRate)
	}

	if a.FrameSize < 256 || a.FrameSize > 2048 {
		return fmt.Errorf("frame_size must be between 256 and 2048 samples, got %d", a.FrameSize)
	}

	if a.ManualMaxDuration < 1 {
		return fmt.Errorf("manual_max_duration must be at least 1 second, got %d", a.ManualMaxDuration)
	}

	return nil
}

// Validate validates segmenter configuration
func (s *SegmenterConfig) Validate() error {
	if s.PositiveThreshold <= 0 || s.PositiveThreshold > 1 {
		return fmt.Errorf("positive_threshold must be in (0, 1], got %f", s.PositiveThreshold)
	}

	if s.NegativeThreshold < 0 || s.NegativeThreshold >= s.PositiveThreshold {
		return fmt.Errorf("negative_threshold must be below positive_threshold, got %f", s.NegativeThreshold)
	}

	if s.RedemptionFrames < 1 {
		return fmt.Errorf("redemption_frames must be at least 1, got %d", s.RedemptionFrames)
	}

	if s.PreSpeechPadFrames < 0 {
		return fmt.Errorf("pre_speech_pad_frames cannot be negative, got %d", s.PreSpeechPadFrames)
	}

	if s.MinSpeechFrames < 1 {
		return fmt.Errorf("min_speech_frames must be at least 1, got %d", s.MinSpeechFrames)
	}

	return nil
}

// Validate validates orchestrator configuration
func (o *OrchestratorConfig) Validate() error {
	if o.RestartDebounceMs < 1 {
		return fmt.Errorf("restart_debounce_ms must be positive, got %d", o.RestartDebounceMs)
	}

	if o.HealthIntervalMs < 1 {
		return fmt.Errorf("health_interval_ms must be positive, got %d", o.HealthIntervalMs)
	}

	if o.LevelIntervalMs < 1 {
		return fmt.Errorf("level_interval_ms must be positive, got %d", o.LevelIntervalMs)
	}

	if o.SegmenterInitSec < 1 {
		return fmt.Errorf("segmenter_init_timeout must be at least 1 second, got %d", o.SegmenterInitSec)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	return nil
}

// Validate validates TTS configuration
func (t *TTSConfig) Validate() error {
	if t.Enabled {
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty when TTS is enabled")
		}

		if t.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
		}

		if t.HealthInterval < 1 {
			return fmt.Errorf("health_interval must be at least 1 second, got %d", t.HealthInterval)
		}
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetRestartDebounce returns the restart debounce as a time.Duration
func (o *OrchestratorConfig) GetRestartDebounce() time.Duration {
	return time.Duration(o.RestartDebounceMs) * time.Millisecond
}

// GetHealthInterval returns the health-check interval as a time.Duration
func (o *OrchestratorConfig) GetHealthInterval() time.Duration {
	return time.Duration(o.HealthIntervalMs) * time.Millisecond
}

// GetLevelInterval returns the level-meter poll interval as a time.Duration
func (o *OrchestratorConfig) GetLevelInterval() time.Duration {
	return time.Duration(o.LevelIntervalMs) * time.Millisecond
}

// GetSegmenterInitTimeout returns the segmenter init timeout as a time.Duration
func (o *OrchestratorConfig) GetSegmenterInitTimeout() time.Duration {
	return time.Duration(o.SegmenterInitSec) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (t *TTSConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetHealthIntervalDuration returns the health poll interval as a time.Duration
func (t *TTSConfig) GetHealthIntervalDuration() time.Duration {
	return time.Duration(t.HealthInterval) * time.Second
}
