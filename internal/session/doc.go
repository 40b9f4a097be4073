// Package session implements the conversation state machine. It owns the
// voice session's phase, arbitrates between listening, transcribing,
// responding, and speaking, and drives the guarded restart and health-check
// policy that returns the session to listening after each turn. All phase
// transitions are serialized behind one mutex; every asynchronous
// continuation re-reads live state under that mutex before acting.
package session
