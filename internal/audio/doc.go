// Package audio handles capture-device ownership and audio format conversion.
// It implements the microphone device guard with a shared level meter, linear
// resampling to the canonical 16 kHz mono rate, and WAV encoding of utterances
// for transcription dispatch.
package audio
