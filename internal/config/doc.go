// Package config provides configuration loading and validation for the voice
// conversation orchestrator. It handles YAML-based configuration with
// per-section validation and duration helpers for time-valued settings.
package config
