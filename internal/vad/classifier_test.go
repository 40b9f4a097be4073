package vad

import (
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loudFrame(n int, amplitude float32) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func TestNewClassifierFallsBackWithoutModel(t *testing.T) {
	tests := []struct {
		name      string
		modelPath string
	}{
		{name: "no model configured", modelPath: ""},
		{name: "model file missing", modelPath: "/nonexistent/silero_vad.onnx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := NewClassifier(ClassifierConfig{
				ModelPath:  tt.modelPath,
				SampleRate: 16000,
				FrameSize:  512,
			}, discardLogger())

			if _, ok := cls.(*EnergyClassifier); !ok {
				t.Errorf("Expected energy classifier fallback, got %T", cls)
			}
		})
	}
}

func TestEnergyClassifierCalibration(t *testing.T) {
	cls := NewEnergyClassifier()

	// During calibration every frame scores zero.
	for i := 0; i < calibrationFrames; i++ {
		prob, err := cls.SpeechProb(loudFrame(512, 0.001))
		if err != nil {
			t.Fatalf("SpeechProb failed: %v", err)
		}
		if prob != 0 {
			t.Fatalf("Expected 0 during calibration, got %f", prob)
		}
	}

	// Loud frames after calibration must score well above silence.
	var loud float32
	for i := 0; i < 10; i++ {
		var err error
		loud, err = cls.SpeechProb(loudFrame(512, 0.5))
		if err != nil {
			t.Fatalf("SpeechProb failed: %v", err)
		}
	}
	if loud < 0.5 {
		t.Errorf("Expected loud frames to score >= 0.5, got %f", loud)
	}

	cls.Reset()

	// After reset, calibration restarts.
	prob, err := cls.SpeechProb(loudFrame(512, 0.5))
	if err != nil {
		t.Fatalf("SpeechProb failed: %v", err)
	}
	if prob != 0 {
		t.Errorf("Expected 0 right after reset, got %f", prob)
	}
}

func TestEnergyClassifierQuietFramesScoreLow(t *testing.T) {
	cls := NewEnergyClassifier()

	for i := 0; i < calibrationFrames; i++ {
		if _, err := cls.SpeechProb(loudFrame(512, 0.001)); err != nil {
			t.Fatalf("SpeechProb failed: %v", err)
		}
	}

	prob, err := cls.SpeechProb(loudFrame(512, 0.001))
	if err != nil {
		t.Fatalf("SpeechProb failed: %v", err)
	}
	if prob > 0.1 {
		t.Errorf("Expected quiet frame to score near 0, got %f", prob)
	}
}

func TestEnergyClassifierRejectsEmptyFrame(t *testing.T) {
	cls := NewEnergyClassifier()
	if _, err := cls.SpeechProb(nil); err == nil {
		t.Error("Expected error for empty frame")
	}
}

func TestSileroRequiresCanonicalFormat(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClassifierConfig
	}{
		{name: "wrong sample rate", cfg: ClassifierConfig{ModelPath: "x.onnx", SampleRate: 8000, FrameSize: 512}},
		{name: "wrong frame size", cfg: ClassifierConfig{ModelPath: "x.onnx", SampleRate: 16000, FrameSize: 480}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := newSileroClassifier(tt.cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
