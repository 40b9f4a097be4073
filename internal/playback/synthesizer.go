package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// SynthesizerConfig contains TTS backend client configuration
type SynthesizerConfig struct {
	Endpoint       string
	APIKey         string
	Timeout        time.Duration
	HealthInterval time.Duration
}

// HTTPSynthesizer posts reply text to the TTS backend, which synthesizes
// and plays it, and returns once playback on the backend completes.
type HTTPSynthesizer struct {
	config     SynthesizerConfig
	httpClient *http.Client
	logger     *slog.Logger
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// NewHTTPSynthesizer creates a TTS backend client
func NewHTTPSynthesizer(config SynthesizerConfig, logger *slog.Logger) (*HTTPSynthesizer, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.HealthInterval <= 0 {
		config.HealthInterval = 5 * time.Second
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPSynthesizer{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// SynthesizeAndPlay posts text to the backend's synthesize endpoint and
// blocks until the backend finishes speaking it.
func (s *HTTPSynthesizer) SynthesizeAndPlay(ctx context.Context, text, voice string) error {
	payload, err := json.Marshal(synthesizeRequest{Text: text, Voice: voice})
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.config.Endpoint+"/synthesize", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	io.Copy(io.Discard, resp.Body)
	return nil
}

// CheckHealth probes the backend's health endpoint.
func (s *HTTPSynthesizer) CheckHealth(ctx context.Context) bool {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", s.config.Endpoint+"/health", nil)
	if err != nil {
		return false
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// StartHealthPolling probes the backend at the configured interval and
// reports every result to onHealth until ctx is cancelled. The first probe
// runs immediately.
func (s *HTTPSynthesizer) StartHealthPolling(ctx context.Context, onHealth func(healthy bool)) {
	go func() {
		ticker := time.NewTicker(s.config.HealthInterval)
		defer ticker.Stop()

		onHealth(s.CheckHealth(ctx))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				onHealth(s.CheckHealth(ctx))
			}
		}
	}()
}
