package vad

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
)

// Classifier scores one frame of mono float32 audio with a speech
// probability in [0, 1]. Implementations keep state across frames and
// must be Reset between utterances when the stream is discontinuous.
type Classifier interface {
	// SpeechProb returns the speech probability for the given frame.
	SpeechProb(frame []float32) (float32, error)
	// Reset clears internal state.
	Reset()
	// Close releases model resources. The classifier must not be used after Close.
	Close() error
}

// ClassifierConfig holds classifier construction parameters.
type ClassifierConfig struct {
	ModelPath  string // path to silero_vad.onnx; empty selects the energy classifier
	SampleRate int    // audio sample rate, 16000 for the Silero model
	FrameSize  int    // samples per frame (512 for Silero at 16kHz)
}

// NewClassifier returns a Silero classifier when the model file is present
// and the runtime initializes, falling back to the energy classifier
// otherwise. Classifier construction failure is never fatal on its own.
func NewClassifier(cfg ClassifierConfig, logger *slog.Logger) Classifier {
	if cfg.ModelPath == "" {
		logger.Info("No VAD model configured, using energy classifier")
		return NewEnergyClassifier()
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		logger.Warn("VAD model not found, using energy classifier",
			slog.String("model_path", cfg.ModelPath),
		)
		return NewEnergyClassifier()
	}

	cls, err := newSileroClassifier(cfg)
	if err != nil {
		logger.Warn("Failed to load Silero VAD, using energy classifier",
			slog.String("model_path", cfg.ModelPath),
			slog.String("error", err.Error()),
		)
		return NewEnergyClassifier()
	}

	logger.Info("Silero VAD classifier loaded", slog.String("model_path", cfg.ModelPath))
	return cls
}

// EnergyClassifier approximates speech probability from frame RMS energy
// against a calibrated ambient floor. The first frames are assumed silent
// and used for calibration.
type EnergyClassifier struct {
	mu          sync.Mutex
	calibrated  bool
	calibFrames int
	calibSum    float64
	floor       float64
	smoothed    float32
}

const (
	calibrationFrames = 20
	floorMultiplier   = 2.5
	minFloor          = 0.005
	energySmoothing   = 0.3
)

// NewEnergyClassifier creates an energy classifier that auto-calibrates
// from the first frames it sees.
func NewEnergyClassifier() *EnergyClassifier {
	return &EnergyClassifier{}
}

// SpeechProb maps frame energy above the ambient floor to a probability.
func (c *EnergyClassifier) SpeechProb(frame []float32) (float32, error) {
	if len(frame) == 0 {
		return 0, fmt.Errorf("empty frame")
	}

	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	level := math.Sqrt(sum / float64(len(frame)))

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.calibrated {
		c.calibFrames++
		c.calibSum += level
		if c.calibFrames >= calibrationFrames {
			c.floor = (c.calibSum / float64(c.calibFrames)) * floorMultiplier
			if c.floor < minFloor {
				c.floor = minFloor
			}
			c.calibrated = true
		}
		return 0, nil
	}

	// Scale energy above the floor into [0, 1], saturating at 4x the floor.
	prob := float32((level - c.floor) / (c.floor * 4))
	if prob < 0 {
		prob = 0
	}
	if prob > 1 {
		prob = 1
	}

	c.smoothed = energySmoothing*prob + (1-energySmoothing)*c.smoothed
	return c.smoothed, nil
}

// Reset clears calibration and smoothing state.
func (c *EnergyClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calibrated = false
	c.calibFrames = 0
	c.calibSum = 0
	c.floor = 0
	c.smoothed = 0
}

// Close is a no-op for the energy classifier.
func (c *EnergyClassifier) Close() error {
	return nil
}
