package session

import (
	"errors"

	"github.com/skypro1111/voice-orchestrator/internal/permission"
)

// Phase is the session's current position in the conversation cycle.
// Exactly one phase is active at any time.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingPermission
	PhaseInitializing
	PhaseListening
	PhaseSpeechCaptured
	PhaseTranscribing
	PhaseAIResponding
	PhaseSpeaking
	PhasePaused
	PhaseError
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingPermission:
		return "awaiting_permission"
	case PhaseInitializing:
		return "initializing"
	case PhaseListening:
		return "listening"
	case PhaseSpeechCaptured:
		return "speech_captured"
	case PhaseTranscribing:
		return "transcribing"
	case PhaseAIResponding:
		return "ai_responding"
	case PhaseSpeaking:
		return "speaking"
	case PhasePaused:
		return "paused"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// Session error taxonomy. Only permission and device errors surface as the
// Error phase; the rest degrade back to listening or paused.
var (
	ErrPermissionDenied     = errors.New("session: microphone permission denied")
	ErrDeviceUnavailable    = errors.New("session: audio device unavailable")
	ErrSegmenterInitTimeout = errors.New("session: segmenter initialization timed out")
	ErrEncodeFailure        = errors.New("session: utterance encode failed")
	ErrDispatchFailure      = errors.New("session: transcription dispatch failed")
	ErrClosed               = errors.New("session: closed")
	ErrNotRecording         = errors.New("session: manual recorder not active")
)

// Snapshot is a point-in-time copy of the session state for diagnostics
// and UI consumers.
type Snapshot struct {
	Phase           Phase             `json:"-"`
	PhaseName       string            `json:"phase"`
	Enabled         bool              `json:"enabled"`
	AutoSpeech      bool              `json:"auto_speech"`
	Permission      permission.Status `json:"-"`
	PermissionName  string            `json:"permission"`
	AudioLevel      float64           `json:"audio_level"`
	SegmenterActive bool              `json:"segmenter_active"`
	RecorderActive  bool              `json:"recorder_active"`
	Transcribing    bool              `json:"transcribing"`
	Responding      bool              `json:"responding"`
	Speaking        bool              `json:"speaking"`
	RestartPending  bool              `json:"restart_pending"`
	LastError       string            `json:"last_error,omitempty"`
	Status          string            `json:"status"`
}
