package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
)

var (
	// ErrPermissionDenied indicates the OS refused access to the capture device.
	ErrPermissionDenied = errors.New("audio: capture permission denied")

	// ErrDeviceUnavailable indicates the capture device could not be opened.
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")
)

// FrameSink receives fixed-size frames of mono float32 samples from the
// capture callback. Sinks must not retain the slice past the call.
type FrameSink func(frame []float32)

// DeviceGuard owns the microphone capture device and its analysis pipeline.
// Acquire is idempotent; Release stops capture, tears the device down
// asynchronously, and synchronously zeroes the level meter. The stream is
// exclusively owned: consumers subscribe for frames but never dispose the
// device themselves.
type DeviceGuard struct {
	sampleRate int
	frameSize  int
	logger     *slog.Logger

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	acquired bool
	sinks    map[int]FrameSink
	nextSink int
	pending  []float32
	level    float64
}

// NewDeviceGuard creates a guard for a mono capture device at the given
// sample rate, emitting frames of frameSize samples to subscribers.
func NewDeviceGuard(sampleRate, frameSize int, logger *slog.Logger) *DeviceGuard {
	return &DeviceGuard{
		sampleRate: sampleRate,
		frameSize:  frameSize,
		logger:     logger,
		sinks:      make(map[int]FrameSink),
	}
}

// Acquire opens the capture device and starts the analysis pipeline. If an
// active handle already references a live device it is reused rather than
// re-opened.
func (g *DeviceGuard) Acquire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.acquired {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("%w: context init: %v", ErrDeviceUnavailable, err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(g.sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: g.onCaptureFrames,
	})
	if err != nil {
		teardownContext(mctx, g.logger)
		return fmt.Errorf("%w: device init: %v", ErrDeviceUnavailable, err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		teardownContext(mctx, g.logger)
		return fmt.Errorf("%w: device start: %v", ErrDeviceUnavailable, err)
	}

	g.ctx = mctx
	g.device = device
	g.acquired = true
	g.pending = g.pending[:0]

	g.logger.Info("Capture device acquired",
		slog.Int("sample_rate", g.sampleRate),
		slog.Int("frame_size", g.frameSize),
	)

	return nil
}

// Release stops capture and tears down the device asynchronously. The level
// meter is reset synchronously; teardown failure is logged, never returned.
// Releasing an unacquired guard is a no-op.
func (g *DeviceGuard) Release() {
	g.mu.Lock()
	if !g.acquired {
		g.mu.Unlock()
		return
	}

	device := g.device
	mctx := g.ctx
	g.device = nil
	g.ctx = nil
	g.acquired = false
	g.level = 0
	g.pending = nil
	g.mu.Unlock()

	go func() {
		if device != nil {
			device.Uninit()
		}
		teardownContext(mctx, g.logger)
		g.logger.Info("Capture device released")
	}()
}

// ProbeCapture verifies the capture device can be opened without retaining
// it. A guard that already holds the device reports success immediately.
func (g *DeviceGuard) ProbeCapture(ctx context.Context) error {
	g.mu.Lock()
	held := g.acquired
	g.mu.Unlock()

	if held {
		return nil
	}
	if err := g.Acquire(ctx); err != nil {
		return err
	}
	g.Release()
	return nil
}

// Acquired reports whether the guard currently holds a live device.
func (g *DeviceGuard) Acquired() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.acquired
}

// Level returns the most recent RMS level of the captured audio, in [0, 1].
func (g *DeviceGuard) Level() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.level
}

// Subscribe registers a frame sink and returns its unsubscribe func.
// Subscriptions survive Release/Acquire cycles.
func (g *DeviceGuard) Subscribe(sink FrameSink) func() {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextSink
	g.nextSink++
	g.sinks[id] = sink

	return func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		delete(g.sinks, id)
	}
}

// onCaptureFrames is the malgo data callback: it rebuffers incoming samples
// into fixed-size frames, updates the level meter, and fans each frame out
// to all subscribed sinks.
func (g *DeviceGuard) onCaptureFrames(_, pSample []byte, frameCount uint32) {
	if frameCount == 0 {
		return
	}

	g.mu.Lock()
	n := int(frameCount)
	for i := 0; i < n && (i+1)*4 <= len(pSample); i++ {
		g.pending = append(g.pending, math.Float32frombits(binary.LittleEndian.Uint32(pSample[i*4:])))
	}

	var frames [][]float32
	for len(g.pending) >= g.frameSize {
		frame := make([]float32, g.frameSize)
		copy(frame, g.pending[:g.frameSize])
		g.pending = append(g.pending[:0], g.pending[g.frameSize:]...)
		frames = append(frames, frame)
	}
	if len(frames) > 0 {
		g.level = RMS(frames[len(frames)-1])
	}

	sinks := make([]FrameSink, 0, len(g.sinks))
	for _, s := range g.sinks {
		sinks = append(sinks, s)
	}
	g.mu.Unlock()

	for _, frame := range frames {
		for _, sink := range sinks {
			sink(frame)
		}
	}
}

// teardownContext uninitializes and frees a malgo context, logging failures.
func teardownContext(mctx *malgo.AllocatedContext, logger *slog.Logger) {
	if mctx == nil {
		return
	}
	if err := mctx.Uninit(); err != nil {
		logger.Warn("Capture context teardown failed", slog.String("error", err.Error()))
	}
	mctx.Free()
}
