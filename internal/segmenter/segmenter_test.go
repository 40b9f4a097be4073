package segmenter

import (
	"io"
	"log/slog"
	"testing"
)

// scriptedClassifier replays a fixed probability sequence, repeating the
// last value once the script runs out.
type scriptedClassifier struct {
	probs  []float32
	pos    int
	resets int
	closed bool
}

func (c *scriptedClassifier) SpeechProb(frame []float32) (float32, error) {
	if c.pos >= len(c.probs) {
		return c.probs[len(c.probs)-1], nil
	}
	p := c.probs[c.pos]
	c.pos++
	return p, nil
}

func (c *scriptedClassifier) Reset()       { c.resets++ }
func (c *scriptedClassifier) Close() error { c.closed = true; return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		PositiveThreshold:  0.5,
		NegativeThreshold:  0.35,
		RedemptionFrames:   2,
		FrameSize:          4,
		PreSpeechPadFrames: 2,
		MinSpeechFrames:    2,
	}
}

func constFrame(n int, v float32) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = v
	}
	return frame
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "zero positive threshold", mutate: func(c *Config) { c.PositiveThreshold = 0 }, wantErr: true},
		{name: "negative above positive", mutate: func(c *Config) { c.NegativeThreshold = 0.9 }, wantErr: true},
		{name: "zero redemption frames", mutate: func(c *Config) { c.RedemptionFrames = 0 }, wantErr: true},
		{name: "zero frame size", mutate: func(c *Config) { c.FrameSize = 0 }, wantErr: true},
		{name: "negative pre-speech pad", mutate: func(c *Config) { c.PreSpeechPadFrames = -1 }, wantErr: true},
		{name: "zero min speech frames", mutate: func(c *Config) { c.MinSpeechFrames = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("Expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestSegmenterEmitsSpeechBoundaries(t *testing.T) {
	// Two silent frames, four speech frames, then trailing silence.
	cls := &scriptedClassifier{probs: []float32{0.1, 0.1, 0.9, 0.9, 0.9, 0.9, 0.1, 0.1}}

	var started int
	var ended [][]float32
	seg, err := New(testConfig(), cls, Callbacks{
		OnSpeechStart: func() { started++ },
		OnSpeechEnd:   func(samples []float32) { ended = append(ended, samples) },
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seg.Start()

	for i := 0; i < 8; i++ {
		if err := seg.Push(constFrame(4, float32(i))); err != nil {
			t.Fatalf("Push %d failed: %v", i, err)
		}
	}

	if started != 1 {
		t.Errorf("Expected 1 speech start, got %d", started)
	}
	if len(ended) != 1 {
		t.Fatalf("Expected 1 speech end, got %d", len(ended))
	}

	// Pre-pad holds frames 1 and 2 (the trigger frame is in the ring), then
	// frames 3..7 are appended while speech is active: 7 frames of 4 samples.
	if got, want := len(ended[0]), 7*4; got != want {
		t.Errorf("Expected %d samples in segment, got %d", want, got)
	}
	// The segment starts with frame 1, one frame of pre-speech padding
	// before the trigger.
	if ended[0][0] != 1 {
		t.Errorf("Expected segment to start with pre-pad frame 1, got %f", ended[0][0])
	}
}

func TestSegmenterZeroPadKeepsTriggerFrame(t *testing.T) {
	// One speech frame then trailing silence, with no pre-speech padding
	// configured. The triggering frame itself must still open the segment.
	cls := &scriptedClassifier{probs: []float32{0.9, 0.1}}

	cfg := testConfig()
	cfg.PreSpeechPadFrames = 0
	cfg.MinSpeechFrames = 1
	cfg.RedemptionFrames = 1

	var ended [][]float32
	seg, err := New(cfg, cls, Callbacks{
		OnSpeechEnd: func(samples []float32) { ended = append(ended, samples) },
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seg.Start()

	if err := seg.Push(constFrame(4, 1)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if err := seg.Push(constFrame(4, 0)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	if len(ended) != 1 {
		t.Fatalf("Expected 1 speech end, got %d", len(ended))
	}
	if got, want := len(ended[0]), 2*4; got != want {
		t.Errorf("Expected %d samples in segment, got %d", want, got)
	}
	if ended[0][0] != 1 {
		t.Errorf("Expected the trigger frame at the segment head, got %f", ended[0][0])
	}
}

func TestSegmenterRetractsShortBursts(t *testing.T) {
	// A single speech frame followed by silence is below MinSpeechFrames.
	cls := &scriptedClassifier{probs: []float32{0.9, 0.1, 0.1, 0.1}}

	var started, misfires int
	var ended int
	seg, err := New(testConfig(), cls, Callbacks{
		OnSpeechStart: func() { started++ },
		OnSpeechEnd:   func([]float32) { ended++ },
		OnMisfire:     func() { misfires++ },
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seg.Start()

	for i := 0; i < 4; i++ {
		if err := seg.Push(constFrame(4, 0)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if started != 1 {
		t.Errorf("Expected 1 speech start, got %d", started)
	}
	if misfires != 1 {
		t.Errorf("Expected 1 misfire, got %d", misfires)
	}
	if ended != 0 {
		t.Errorf("Expected no speech end for a misfire, got %d", ended)
	}
}

func TestSegmenterRedemptionBridgesBriefPauses(t *testing.T) {
	// One silence frame inside a speech run stays under RedemptionFrames=2
	// and must not end the segment.
	cls := &scriptedClassifier{probs: []float32{0.9, 0.9, 0.1, 0.9, 0.9, 0.1, 0.1}}

	var ended int
	seg, err := New(testConfig(), cls, Callbacks{
		OnSpeechEnd: func([]float32) { ended++ },
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seg.Start()

	for i := 0; i < 7; i++ {
		if err := seg.Push(constFrame(4, 0)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if ended != 1 {
		t.Errorf("Expected exactly 1 segment, got %d", ended)
	}
}

func TestSegmenterDropsFramesWhilePaused(t *testing.T) {
	cls := &scriptedClassifier{probs: []float32{0.9}}

	var started int
	seg, err := New(testConfig(), cls, Callbacks{
		OnSpeechStart: func() { started++ },
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Not started yet: frames are dropped.
	if err := seg.Push(constFrame(4, 0)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if started != 0 {
		t.Error("Expected no events before Start")
	}

	seg.Start()
	seg.Pause()
	if err := seg.Push(constFrame(4, 0)); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if started != 0 {
		t.Error("Expected no events while paused")
	}
	if seg.Running() {
		t.Error("Expected Running to report false while paused")
	}
}

func TestSegmenterPauseDropsPartialSegment(t *testing.T) {
	cls := &scriptedClassifier{probs: []float32{0.9, 0.9, 0.9, 0.1, 0.1}}

	var ended int
	seg, err := New(testConfig(), cls, Callbacks{
		OnSpeechEnd: func([]float32) { ended++ },
	}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seg.Start()

	// Enter a speech run, then pause mid-utterance.
	for i := 0; i < 3; i++ {
		if err := seg.Push(constFrame(4, 0)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}
	seg.Pause()
	seg.Start()

	// Remaining silence frames belong to no segment.
	for i := 0; i < 2; i++ {
		if err := seg.Push(constFrame(4, 0)); err != nil {
			t.Fatalf("Push failed: %v", err)
		}
	}

	if ended != 0 {
		t.Errorf("Expected the paused partial segment to be dropped, got %d ends", ended)
	}
	if cls.resets != 2 {
		t.Errorf("Expected classifier reset on each Start, got %d", cls.resets)
	}
}

func TestSegmenterDisposeClosesClassifier(t *testing.T) {
	cls := &scriptedClassifier{probs: []float32{0.1}}
	seg, err := New(testConfig(), cls, Callbacks{}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seg.Start()
	seg.Dispose()
	seg.Dispose() // second dispose is a no-op

	if !cls.closed {
		t.Error("Expected Dispose to close the classifier")
	}
	if seg.Running() {
		t.Error("Expected Running to report false after Dispose")
	}
	if err := seg.Push(constFrame(4, 0)); err != nil {
		t.Errorf("Push after Dispose should be a silent drop, got %v", err)
	}
}

func TestSegmenterRejectsWrongFrameSize(t *testing.T) {
	cls := &scriptedClassifier{probs: []float32{0.1}}
	seg, err := New(testConfig(), cls, Callbacks{}, discardLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	seg.Start()

	if err := seg.Push(constFrame(5, 0)); err == nil {
		t.Error("Expected error for wrong frame size")
	}
}
