package audio

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"
)

func sineSamples(sampleRate int, duration, frequency float64) []float32 {
	numSamples := int(float64(sampleRate) * duration)
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*frequency*t))
	}
	return samples
}

func TestEncodeWAV(t *testing.T) {
	// Generate test audio samples (440Hz sine wave for 0.1 seconds at 16kHz)
	sampleRate := 16000
	duration := 0.1
	frequency := 440.0 // A4 note

	numSamples := int(float64(sampleRate) * duration)
	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		amplitude := 16383.0 // Half of max int16 to avoid clipping
		samples[i] = int16(amplitude * math.Sin(2*math.Pi*frequency*t))
	}

	wavData, err := EncodeWAV(samples, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// WAV header is 44 bytes followed by 2 bytes per sample
	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Encoded WAV failed validation: %v", err)
	}

	decoded, decodedRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if decodedRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedRate)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample %d mismatch: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	tests := []struct {
		name       string
		samples    []int16
		sampleRate int
	}{
		{name: "empty samples", samples: nil, sampleRate: 16000},
		{name: "zero sample rate", samples: []int16{1, 2, 3}, sampleRate: 0},
		{name: "negative sample rate", samples: []int16{1, 2, 3}, sampleRate: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.samples, tt.sampleRate); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestEncodeUtteranceCanonicalFormat(t *testing.T) {
	// 1600 samples already at 16kHz must produce a data chunk of exactly
	// 1600*2 bytes (16-bit mono) with no resampling applied.
	samples := sineSamples(CanonicalSampleRate, 0.1, 440)
	if len(samples) != 1600 {
		t.Fatalf("Expected 1600 input samples, got %d", len(samples))
	}

	wavData, err := EncodeUtterance(samples, CanonicalSampleRate)
	if err != nil {
		t.Fatalf("EncodeUtterance failed: %v", err)
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Fatalf("Encoded utterance failed validation: %v", err)
	}

	sampleRate := binary.LittleEndian.Uint32(wavData[24:28])
	if sampleRate != CanonicalSampleRate {
		t.Errorf("Expected declared sample rate %d, got %d", CanonicalSampleRate, sampleRate)
	}

	channels := binary.LittleEndian.Uint16(wavData[22:24])
	if channels != 1 {
		t.Errorf("Expected mono, got %d channels", channels)
	}

	dataSize := binary.LittleEndian.Uint32(wavData[40:44])
	if dataSize != 1600*2 {
		t.Errorf("Expected data chunk size %d, got %d", 1600*2, dataSize)
	}
}

func TestEncodeUtteranceDeterministic(t *testing.T) {
	samples := sineSamples(48000, 0.25, 220)

	first, err := EncodeUtterance(samples, 48000)
	if err != nil {
		t.Fatalf("EncodeUtterance failed: %v", err)
	}

	second, err := EncodeUtterance(samples, 48000)
	if err != nil {
		t.Fatalf("EncodeUtterance failed: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("Encoding the same samples twice produced different bytes")
	}
}

func TestEncodeUtteranceResamples(t *testing.T) {
	// 4800 samples at 48kHz is 100ms of audio, which is 1600 samples at 16kHz.
	samples := sineSamples(48000, 0.1, 440)

	wavData, err := EncodeUtterance(samples, 48000)
	if err != nil {
		t.Fatalf("EncodeUtterance failed: %v", err)
	}

	info := binary.LittleEndian.Uint32(wavData[40:44])
	declaredSamples := int(info / 2)
	if declaredSamples != 1600 {
		t.Errorf("Expected 1600 resampled samples declared, got %d", declaredSamples)
	}
}

func TestResample(t *testing.T) {
	tests := []struct {
		name    string
		srcRate int
		dstRate int
		inLen   int
		outLen  int
	}{
		{name: "identity", srcRate: 16000, dstRate: 16000, inLen: 512, outLen: 512},
		{name: "downsample 48k to 16k", srcRate: 48000, dstRate: 16000, inLen: 4800, outLen: 1600},
		{name: "downsample 44.1k to 16k", srcRate: 44100, dstRate: 16000, inLen: 4410, outLen: 1600},
		{name: "upsample 8k to 16k", srcRate: 8000, dstRate: 16000, inLen: 800, outLen: 1600},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.inLen)
			out := Resample(in, tt.srcRate, tt.dstRate)
			if len(out) != tt.outLen {
				t.Errorf("Expected %d output samples, got %d", tt.outLen, len(out))
			}
		})
	}
}

func TestFloat32ToPCM16Clamps(t *testing.T) {
	samples := []float32{0, 0.5, -0.5, 1.5, -1.5}
	pcm := Float32ToPCM16(samples)

	if pcm[0] != 0 {
		t.Errorf("Expected 0, got %d", pcm[0])
	}
	if pcm[3] != 32767 {
		t.Errorf("Expected clamp to 32767, got %d", pcm[3])
	}
	if pcm[4] != -32767 {
		t.Errorf("Expected clamp to -32767, got %d", pcm[4])
	}
}

func TestRMS(t *testing.T) {
	if got := RMS(nil); got != 0 {
		t.Errorf("Expected 0 for empty input, got %f", got)
	}

	flat := []float32{0.5, 0.5, 0.5, 0.5}
	if got := RMS(flat); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("Expected 0.5, got %f", got)
	}

	loud := []float32{2, -2, 2, -2}
	if got := RMS(loud); got != 1 {
		t.Errorf("Expected clamp to 1, got %f", got)
	}
}

func TestGetWAVDuration(t *testing.T) {
	samples := make([]int16, 16000) // exactly one second at 16kHz
	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}

	if math.Abs(duration-1.0) > 1e-9 {
		t.Errorf("Expected duration 1.0s, got %f", duration)
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte("RIFF")},
		{name: "not riff", data: bytes.Repeat([]byte{0}, 64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(tt.data); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}
