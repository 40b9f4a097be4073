// Package transcription implements the HTTP client for the transcription API.
// It uploads encoded WAV utterances as multipart form data with request
// metadata, implements retry logic with exponential backoff, and manages
// rate limiting.
package transcription
