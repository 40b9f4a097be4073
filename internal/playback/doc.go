// Package playback speaks assistant replies. The controller sanitizes
// reply text for speech, deduplicates repeated triggers, dispatches to a
// synthesizer backend, and supports cancellation mid-utterance. Backend
// health gates whether the session auto-speaks at all.
package playback
