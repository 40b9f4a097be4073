// Package vad provides the speech-activity classifier consumed by the
// segmenter. The primary implementation runs the Silero VAD ONNX model;
// an energy-based classifier serves as the fallback when the model or the
// ONNX runtime is unavailable.
package vad
