package vad

import (
	"fmt"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// sileroClassifier runs the Silero VAD ONNX model. It expects frames of
// 512 samples at 16 kHz and carries the model's hidden state [2, 1, 64]
// across calls.
type sileroClassifier struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	state      *ort.Tensor[float32]
	sampleRate int
	frameSize  int
	lastProb   float32
	closed     bool
}

const sileroStateSize = 2 * 1 * 64

func newSileroClassifier(cfg ClassifierConfig) (*sileroClassifier, error) {
	if cfg.SampleRate != 16000 {
		return nil, fmt.Errorf("silero vad requires 16000 Hz input, got %d", cfg.SampleRate)
	}
	if cfg.FrameSize != 512 {
		return nil, fmt.Errorf("silero vad requires 512-sample frames, got %d", cfg.FrameSize)
	}

	if err := ort.InitializeEnvironment(); err != nil {
		// A second initialization from another component is fine.
		if !strings.Contains(err.Error(), "already initialized") {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	stateData := make([]float32, sileroStateSize)
	state, err := ort.NewTensor(ort.NewShape(2, 1, 64), stateData)
	if err != nil {
		return nil, fmt.Errorf("failed to create state tensor: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		nil,
	)
	if err != nil {
		state.Destroy()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &sileroClassifier{
		session:    session,
		state:      state,
		sampleRate: cfg.SampleRate,
		frameSize:  cfg.FrameSize,
	}, nil
}

// SpeechProb runs one inference step. On transient inference errors the
// previous probability is returned so a single bad frame does not flip
// segment state.
func (c *sileroClassifier) SpeechProb(frame []float32) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, fmt.Errorf("classifier is closed")
	}
	if len(frame) != c.frameSize {
		return 0, fmt.Errorf("expected %d samples, got %d", c.frameSize, len(frame))
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, int64(len(frame))), frame)
	if err != nil {
		return c.lastProb, nil
	}
	defer inputTensor.Destroy()

	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(c.sampleRate)})
	if err != nil {
		return c.lastProb, nil
	}
	defer srTensor.Destroy()

	outputTensor, err := ort.NewTensor(ort.NewShape(1, 1), make([]float32, 1))
	if err != nil {
		return c.lastProb, nil
	}
	defer outputTensor.Destroy()

	newState, err := ort.NewTensor(ort.NewShape(2, 1, 64), make([]float32, sileroStateSize))
	if err != nil {
		return c.lastProb, nil
	}
	defer newState.Destroy()

	inputs := []ort.Value{inputTensor, c.state, srTensor}
	outputs := []ort.Value{outputTensor, newState}
	if err := c.session.Run(inputs, outputs); err != nil {
		return c.lastProb, nil
	}

	copy(c.state.GetData(), newState.GetData())
	c.lastProb = outputTensor.GetData()[0]
	return c.lastProb, nil
}

// Reset zeroes the hidden state.
func (c *sileroClassifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lastProb = 0
	for i := range c.state.GetData() {
		c.state.GetData()[i] = 0
	}
}

// Close destroys the session and state tensor.
func (c *sileroClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.state.Destroy()
	return c.session.Destroy()
}
