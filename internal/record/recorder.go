package record

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// FrameSource grants access to the capture frame stream. Subscribe returns
// an unsubscribe func.
type FrameSource interface {
	Subscribe(sink func(frame []float32)) func()
}

var (
	// ErrNotRecording is returned by Stop when no recording is active.
	ErrNotRecording = errors.New("record: no active recording")

	// ErrEmptyRecording is returned by Stop when no audio was captured.
	ErrEmptyRecording = errors.New("record: recording captured no audio")
)

// ManualRecorder buffers capture frames between Start and Stop. It serves
// as the fallback capture path when the automatic segmenter cannot be
// initialized. At most maxSamples are retained; older audio is dropped
// first so Stop always returns the tail of the recording.
type ManualRecorder struct {
	source     FrameSource
	maxSamples int
	logger     *slog.Logger

	mu          sync.Mutex
	active      bool
	samples     []float32
	unsubscribe func()
}

// NewManualRecorder creates a recorder over the given frame source. The
// recording is capped at maxSeconds of audio at the given sample rate.
func NewManualRecorder(source FrameSource, sampleRate, maxSeconds int, logger *slog.Logger) (*ManualRecorder, error) {
	if source == nil {
		return nil, fmt.Errorf("record: frame source is required")
	}
	if sampleRate < 1 || maxSeconds < 1 {
		return nil, fmt.Errorf("record: invalid capacity %ds at %dHz", maxSeconds, sampleRate)
	}
	return &ManualRecorder{
		source:     source,
		maxSamples: sampleRate * maxSeconds,
		logger:     logger,
	}, nil
}

// Start begins buffering frames. Starting an active recorder is a no-op.
func (r *ManualRecorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		return nil
	}
	r.active = true
	r.samples = r.samples[:0]
	r.unsubscribe = r.source.Subscribe(r.onFrame)
	r.logger.Debug("Manual recording started")
	return nil
}

// Stop ends the recording and returns the buffered samples. The recorder
// can be restarted afterwards.
func (r *ManualRecorder) Stop() ([]float32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return nil, ErrNotRecording
	}
	r.active = false
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}

	if len(r.samples) == 0 {
		return nil, ErrEmptyRecording
	}

	out := make([]float32, len(r.samples))
	copy(out, r.samples)
	r.samples = nil

	r.logger.Debug("Manual recording stopped", slog.Int("samples", len(out)))
	return out, nil
}

// Active reports whether a recording is in progress.
func (r *ManualRecorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Dispose cancels any active recording and drops the buffer.
func (r *ManualRecorder) Dispose() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	r.active = false
	r.samples = nil
}

func (r *ManualRecorder) onFrame(frame []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return
	}
	r.samples = append(r.samples, frame...)
	if overflow := len(r.samples) - r.maxSamples; overflow > 0 {
		r.samples = append(r.samples[:0], r.samples[overflow:]...)
	}
}
