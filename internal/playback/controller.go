package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrCancelled is returned by Speak when Cancel interrupts the utterance.
	ErrCancelled = errors.New("playback: cancelled")

	// ErrUnhealthy is returned by Speak when the synthesizer backend is down.
	ErrUnhealthy = errors.New("playback: synthesizer unhealthy")
)

// Synthesizer converts text to audible speech and blocks until playback
// finishes or ctx is cancelled.
type Synthesizer interface {
	SynthesizeAndPlay(ctx context.Context, text, voice string) error
}

// maxSpokenKeys bounds the dedup set; it is cleared wholesale when full.
const maxSpokenKeys = 256

// Controller dispatches sanitized reply text to the synthesizer. At most
// one utterance is in flight; a new Speak cancels the previous one. Each
// dedup key is spoken at most once.
type Controller struct {
	synth  Synthesizer
	voice  string
	logger *slog.Logger

	mu       sync.Mutex
	healthy  bool
	onHealth func(bool)
	spoken   map[string]struct{}
	active   *speakHandle
}

// speakHandle identifies one in-flight utterance so a finished Speak only
// clears its own registration, never a successor's.
type speakHandle struct {
	cancel context.CancelFunc
}

// NewController creates a playback controller. The backend is assumed
// healthy until the health poller reports otherwise.
func NewController(synth Synthesizer, voice string, logger *slog.Logger) *Controller {
	return &Controller{
		synth:   synth,
		voice:   voice,
		logger:  logger,
		healthy: true,
		spoken:  make(map[string]struct{}),
	}
}

// Speak sanitizes text and plays it through the synthesizer, blocking until
// playback completes. Text that sanitizes to empty, or a key that was
// already spoken, is a silent success. Cancel resolves an in-flight call
// with ErrCancelled.
func (c *Controller) Speak(ctx context.Context, text, key string) error {
	clean := SanitizeForSpeech(text)
	if clean == "" {
		return nil
	}

	c.mu.Lock()
	if !c.healthy {
		c.mu.Unlock()
		return ErrUnhealthy
	}
	if key != "" {
		if _, seen := c.spoken[key]; seen {
			c.mu.Unlock()
			c.logger.Debug("Skipping duplicate utterance", slog.String("key", key))
			return nil
		}
		if len(c.spoken) >= maxSpokenKeys {
			c.spoken = make(map[string]struct{})
		}
		c.spoken[key] = struct{}{}
	}
	if c.active != nil {
		c.active.cancel()
	}
	speakCtx, cancel := context.WithCancel(ctx)
	handle := &speakHandle{cancel: cancel}
	c.active = handle
	c.mu.Unlock()

	defer func() {
		cancel()
		c.mu.Lock()
		if c.active == handle {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	c.logger.Info("Speaking reply", slog.Int("chars", len(clean)))
	err := c.synth.SynthesizeAndPlay(speakCtx, clean, c.voice)
	if err != nil {
		if errors.Is(speakCtx.Err(), context.Canceled) && ctx.Err() == nil {
			return ErrCancelled
		}
		return fmt.Errorf("playback: %w", err)
	}
	return nil
}

// Cancel interrupts the in-flight utterance, if any.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil {
		c.active.cancel()
		c.active = nil
		c.logger.Debug("Playback cancelled")
	}
}

// Healthy reports whether the synthesizer backend is reachable.
func (c *Controller) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.healthy
}

// OnHealthChange registers a callback for backend health transitions. The
// callback runs on the goroutine reporting the change.
func (c *Controller) OnHealthChange(fn func(healthy bool)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onHealth = fn
}

// SetHealth records the backend health reported by the poller and notifies
// the subscriber on transitions. An unhealthy backend cancels any
// in-flight utterance.
func (c *Controller) SetHealth(healthy bool) {
	c.mu.Lock()
	changed := c.healthy != healthy
	c.healthy = healthy
	fn := c.onHealth
	var cancel context.CancelFunc
	if !healthy && c.active != nil {
		cancel = c.active.cancel
		c.active = nil
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if changed {
		c.logger.Info("Synthesizer health changed", slog.Bool("healthy", healthy))
		if fn != nil {
			fn(healthy)
		}
	}
}
