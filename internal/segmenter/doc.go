// Package segmenter turns per-frame speech probabilities from the
// classifier into utterance boundaries: speech-start, speech-end with the
// accumulated samples, and misfire retractions. It owns the classifier
// lifecycle and exposes start/pause/dispose semantics to the orchestrator.
package segmenter
