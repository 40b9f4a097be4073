package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voice-orchestrator/internal/audio"
	"github.com/skypro1111/voice-orchestrator/internal/metrics"
	"github.com/skypro1111/voice-orchestrator/internal/permission"
	"github.com/skypro1111/voice-orchestrator/internal/playback"
	"github.com/skypro1111/voice-orchestrator/internal/transcription"
)

// Segmenter is the speech-boundary detector lifecycle consumed by the
// session. At most one live segmenter exists per session.
type Segmenter interface {
	Start()
	Pause()
	Dispose()
	Running() bool
}

// SegmentEvents are the callbacks a segmenter factory must wire up.
type SegmentEvents struct {
	OnSpeechStart func()
	OnSpeechEnd   func(samples []float32)
	OnMisfire     func()
}

// SegmenterFactory constructs a segmenter bound to the given events. The
// factory may block on model loading; the session bounds it with the
// configured init timeout and falls back to manual recording.
type SegmenterFactory func(ctx context.Context, events SegmentEvents) (Segmenter, error)

// Recorder is the manual push-to-talk fallback lifecycle. Mutually
// exclusive with a live segmenter.
type Recorder interface {
	Start() error
	Stop() ([]float32, error)
	Active() bool
	Dispose()
}

// RecorderFactory constructs the manual fallback recorder.
type RecorderFactory func() (Recorder, error)

// DeviceGuard owns microphone acquisition and the level meter.
type DeviceGuard interface {
	Acquire(ctx context.Context) error
	Release()
	Level() float64
}

// Transcriber converts one encoded WAV utterance to text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (transcription.Result, error)
}

// Speaker plays reply text aloud. Satisfied by playback.Controller.
type Speaker interface {
	Speak(ctx context.Context, text, key string) error
	Cancel()
	Healthy() bool
}

// Config holds session tuning parameters. The correctness of the restart
// and health-check logic does not depend on the specific durations.
type Config struct {
	SampleRate      int
	RestartDebounce time.Duration
	HealthInterval  time.Duration
	LevelInterval   time.Duration
	InitTimeout     time.Duration
}

func (c *Config) applyDefaults() {
	if c.SampleRate <= 0 {
		c.SampleRate = audio.CanonicalSampleRate
	}
	if c.RestartDebounce <= 0 {
		c.RestartDebounce = 400 * time.Millisecond
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 2 * time.Second
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = 50 * time.Millisecond
	}
	if c.InitTimeout <= 0 {
		c.InitTimeout = 30 * time.Second
	}
}

// Deps are the session's collaborators. Guard, Permissions, NewSegmenter,
// and Transcriber are required; the rest are optional.
type Deps struct {
	Guard        DeviceGuard
	Permissions  permission.Provider
	NewSegmenter SegmenterFactory
	NewRecorder  RecorderFactory
	Transcriber  Transcriber
	Speaker      Speaker

	// OnTranscript hands each transcript to the reply generator. The
	// generator reports back through ReplyReady or ReplyFailed. When nil
	// the session restarts listening immediately after transcription.
	OnTranscript func(text string)

	// Notify receives a snapshot after every observable state change.
	Notify func(Snapshot)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Session is the conversation orchestrator. One Session equals one
// conversation; all phase transitions are serialized behind mu.
type Session struct {
	cfg  Config
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	phase          Phase
	enabled        bool
	autoSpeech     bool
	perm           permission.Status
	seg            Segmenter
	rec            Recorder
	audioLevel     float64
	lastErr        error
	restartGuard   bool
	pendingRelease bool
	transcribing   bool
	responding     bool
	speaking       bool
	initializing   bool
	generation     uint64
	spokenKeys     map[string]struct{}
	closed         bool
}

const maxReplyKeys = 256

// NewSession creates the orchestrator and starts its health-check and
// level-meter loops. The session begins Idle and disabled.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if deps.Guard == nil {
		return nil, fmt.Errorf("session: device guard is required")
	}
	if deps.Permissions == nil {
		return nil, fmt.Errorf("session: permission provider is required")
	}
	if deps.NewSegmenter == nil {
		return nil, fmt.Errorf("session: segmenter factory is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("session: transcriber is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		cfg:        cfg,
		deps:       deps,
		ctx:        ctx,
		cancel:     cancel,
		phase:      PhaseIdle,
		autoSpeech: true,
		perm:       permission.StatusUnknown,
		spokenKeys: make(map[string]struct{}),
	}

	go s.healthLoop()
	go s.levelLoop()

	return s, nil
}

// SetEnabled turns voice mode on or off. Enabling runs the permission and
// initialization flow; disabling pauses capture, cancels playback, and
// releases the device within one scheduling tick.
func (s *Session) SetEnabled(enabled bool) {
	s.mu.Lock()
	if s.closed || s.enabled == enabled {
		s.mu.Unlock()
		return
	}

	if enabled {
		s.enabled = true
		s.lastErr = nil
		if s.perm != permission.StatusGranted {
			s.perm = permission.StatusRequesting
			s.setPhaseLocked(PhaseAwaitingPermission)
			gen := s.generation
			s.mu.Unlock()
			s.publish()
			go s.requestPermission(gen)
			return
		}
		s.beginInitializeLocked()
		s.mu.Unlock()
		s.publish()
		return
	}

	s.disableLocked()
	s.mu.Unlock()
	s.publish()
}

// Enabled reports the user's voice-mode intent.
func (s *Session) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// SetAutoSpeech toggles automatic TTS of replies. Independent of enabled.
func (s *Session) SetAutoSpeech(on bool) {
	s.mu.Lock()
	s.autoSpeech = on
	s.mu.Unlock()
	s.publish()
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// DumpState returns a point-in-time snapshot for diagnostics.
func (s *Session) DumpState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ForceRestart pauses capture and runs the guarded restart sequence. Safe
// to call from any phase; a restart already pending is not duplicated.
func (s *Session) ForceRestart() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.seg != nil {
		s.seg.Pause()
	}
	if s.phase == PhaseListening || s.phase == PhaseSpeechCaptured {
		s.setPhaseLocked(PhaseInitializing)
	}
	s.scheduleRestartLocked()
	s.mu.Unlock()
	s.publish()
}

// ReplyStarted marks the reply generator as busy, keeping the segmenter
// paused until ReplyReady or ReplyFailed.
func (s *Session) ReplyStarted() {
	s.mu.Lock()
	if !s.closed && s.enabled && !s.responding {
		s.responding = true
		if s.seg != nil {
			s.seg.Pause()
		}
		s.setPhaseLocked(PhaseAIResponding)
	}
	s.mu.Unlock()
	s.publish()
}

// ReplyReady delivers the final reply text. The (text, timestamp) pair is
// the dedup key: a repeated trigger for the same pair speaks at most once.
// Speaking happens only when auto-speech is on, the backend is healthy,
// and no earlier utterance is still playing; a trigger arriving while one
// is in flight never preempts it. In every non-speakable case the session
// goes straight to the restart sequence.
func (s *Session) ReplyReady(text string, ts time.Time) {
	key := fmt.Sprintf("%s|%d", text, ts.UnixMilli())

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.responding = false

	if _, seen := s.spokenKeys[key]; seen {
		s.deps.Logger.Debug("Ignoring duplicate reply trigger", slog.String("key", key))
		s.scheduleRestartLocked()
		s.mu.Unlock()
		s.publish()
		return
	}
	if len(s.spokenKeys) >= maxReplyKeys {
		s.spokenKeys = make(map[string]struct{})
	}
	s.spokenKeys[key] = struct{}{}

	canSpeak := s.enabled && s.autoSpeech && text != "" && !s.speaking &&
		s.deps.Speaker != nil && s.deps.Speaker.Healthy()
	if !canSpeak {
		s.scheduleRestartLocked()
		s.mu.Unlock()
		s.publish()
		return
	}

	s.speaking = true
	if s.seg != nil {
		s.seg.Pause()
	}
	s.setPhaseLocked(PhaseSpeaking)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordPlaybackRequest()
	}
	gen := s.generation
	s.mu.Unlock()
	s.publish()

	go s.speak(gen, text, key)
}

// ReplyFailed reports that reply generation failed. The turn ends and the
// session restarts listening.
func (s *Session) ReplyFailed(err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.responding = false
	if err != nil {
		s.deps.Logger.Warn("Reply generation failed", slog.String("error", err.Error()))
	}
	s.scheduleRestartLocked()
	s.mu.Unlock()
	s.publish()
}

// ManualStop ends the manual recording window and dispatches the whole
// window as one utterance. Only valid in manual fallback mode.
func (s *Session) ManualStop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.rec == nil || !s.rec.Active() {
		s.mu.Unlock()
		return ErrNotRecording
	}

	samples, err := s.rec.Stop()
	if err != nil {
		s.scheduleRestartLocked()
		s.mu.Unlock()
		s.publish()
		return err
	}

	if s.transcribing || s.responding || s.speaking {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordSegmentDiscarded()
		}
		// The recorder is stopped either way; arm the restart so manual
		// mode resumes without waiting on the in-flight turn.
		s.scheduleRestartLocked()
		s.mu.Unlock()
		s.publish()
		return nil
	}

	s.beginDispatchLocked(samples)
	s.mu.Unlock()
	s.publish()
	return nil
}

// Close tears the session down: every sub-resource is released and no
// pending restart or callback survives. The session is Idle afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	s.enabled = false
	seg := s.seg
	rec := s.rec
	s.seg = nil
	s.rec = nil
	s.restartGuard = false
	s.pendingRelease = false
	s.audioLevel = 0
	s.setPhaseLocked(PhaseIdle)
	s.mu.Unlock()

	s.cancel()
	if seg != nil {
		seg.Dispose()
	}
	if rec != nil {
		rec.Dispose()
	}
	if s.deps.Speaker != nil {
		s.deps.Speaker.Cancel()
	}
	s.deps.Guard.Release()
	s.publish()
}

// --- permission and initialization ---

func (s *Session) requestPermission(gen uint64) {
	status, err := s.deps.Permissions.Request(s.ctx)

	s.mu.Lock()
	if s.staleLocked(gen) || !s.enabled {
		s.mu.Unlock()
		return
	}
	s.perm = status

	switch status {
	case permission.StatusGranted:
		s.beginInitializeLocked()
	case permission.StatusDenied:
		// enabled stays true so an explicit retry can re-request.
		s.lastErr = ErrPermissionDenied
		s.setPhaseLocked(PhaseError)
	default:
		if err != nil {
			s.lastErr = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		} else {
			s.lastErr = ErrDeviceUnavailable
		}
		s.setPhaseLocked(PhaseError)
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) beginInitializeLocked() {
	if s.initializing {
		return
	}
	s.initializing = true
	s.setPhaseLocked(PhaseInitializing)
	gen := s.generation
	go s.initialize(gen)
}

func (s *Session) initialize(gen uint64) {
	if err := s.deps.Guard.Acquire(s.ctx); err != nil {
		s.mu.Lock()
		if s.staleLocked(gen) {
			s.mu.Unlock()
			return
		}
		s.initializing = false
		if errors.Is(err, audio.ErrPermissionDenied) {
			s.perm = permission.StatusDenied
			s.lastErr = ErrPermissionDenied
		} else {
			s.lastErr = fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		s.setPhaseLocked(PhaseError)
		s.mu.Unlock()
		s.publish()
		return
	}

	s.mu.Lock()
	if s.staleLocked(gen) || !s.enabled {
		s.initializing = false
		s.mu.Unlock()
		s.deps.Guard.Release()
		return
	}
	if s.seg != nil || s.rec != nil {
		// Re-enable fast path: capture components survive a pause cycle.
		s.initializing = false
		s.tryResumeLocked()
		s.mu.Unlock()
		s.publish()
		return
	}
	s.mu.Unlock()

	seg, err := s.buildSegmenter(gen)

	s.mu.Lock()
	if s.staleLocked(gen) || !s.enabled {
		s.initializing = false
		s.mu.Unlock()
		if seg != nil {
			seg.Dispose()
		}
		return
	}
	s.initializing = false

	if err == nil {
		s.seg = seg
		s.seg.Start()
		s.setPhaseLocked(PhaseListening)
		s.mu.Unlock()
		s.publish()
		return
	}

	s.deps.Logger.Warn("Segmenter unavailable, falling back to manual recording",
		slog.String("error", err.Error()),
	)
	if s.deps.NewRecorder != nil {
		rec, recErr := s.deps.NewRecorder()
		if recErr == nil {
			if startErr := rec.Start(); startErr == nil {
				s.rec = rec
				s.setPhaseLocked(PhaseListening)
				s.mu.Unlock()
				s.publish()
				return
			}
			rec.Dispose()
		}
	}

	s.lastErr = err
	s.setPhaseLocked(PhaseError)
	s.mu.Unlock()
	s.publish()
}

// buildSegmenter runs the factory under the init timeout. A segmenter that
// arrives after the deadline is disposed, never leaked.
func (s *Session) buildSegmenter(gen uint64) (Segmenter, error) {
	events := SegmentEvents{
		OnSpeechStart: func() { s.handleSpeechStart(gen) },
		OnSpeechEnd:   func(samples []float32) { s.handleSpeechEnd(gen, samples) },
		OnMisfire:     func() { s.handleMisfire(gen) },
	}

	type result struct {
		seg Segmenter
		err error
	}
	ch := make(chan result, 1)

	ictx, cancel := context.WithTimeout(s.ctx, s.cfg.InitTimeout)
	defer cancel()

	go func() {
		seg, err := s.deps.NewSegmenter(ictx, events)
		ch <- result{seg: seg, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return r.seg, nil
	case <-ictx.Done():
		go func() {
			if r := <-ch; r.seg != nil {
				r.seg.Dispose()
			}
		}()
		return nil, ErrSegmenterInitTimeout
	}
}

// --- segment event handlers ---

func (s *Session) handleSpeechStart(gen uint64) {
	s.mu.Lock()
	if s.staleLocked(gen) || !s.enabled {
		s.mu.Unlock()
		return
	}
	if s.phase == PhaseListening {
		s.setPhaseLocked(PhaseSpeechCaptured)
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) handleMisfire(gen uint64) {
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSegmentMisfire()
	}
	if s.phase == PhaseSpeechCaptured {
		s.setPhaseLocked(PhaseListening)
	}
	s.mu.Unlock()
	s.publish()
}

func (s *Session) handleSpeechEnd(gen uint64, samples []float32) {
	s.mu.Lock()
	if s.staleLocked(gen) || !s.enabled {
		s.mu.Unlock()
		return
	}

	// One turn at a time: a segment arriving while transcription, reply
	// generation, or playback is in flight is discarded, not queued. The
	// phase is left untouched.
	if s.transcribing || s.responding || s.speaking {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordSegmentDiscarded()
		}
		s.deps.Logger.Debug("Discarding segment, turn in flight",
			slog.Int("samples", len(samples)),
			slog.String("phase", s.phase.String()),
		)
		s.mu.Unlock()
		return
	}

	if s.seg != nil {
		s.seg.Pause()
	}
	s.beginDispatchLocked(samples)
	s.mu.Unlock()
	s.publish()
}

func (s *Session) beginDispatchLocked(samples []float32) {
	s.transcribing = true
	s.setPhaseLocked(PhaseTranscribing)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordSegmentCaptured(float64(len(samples)) / float64(s.cfg.SampleRate))
	}
	gen := s.generation
	go s.dispatch(gen, samples)
}

func (s *Session) dispatch(gen uint64, samples []float32) {
	wav, err := audio.EncodeUtterance(samples, s.cfg.SampleRate)
	if err != nil {
		s.deps.Logger.Error("Utterance encode failed", slog.String("error", err.Error()))
		s.mu.Lock()
		if s.staleLocked(gen) {
			s.mu.Unlock()
			return
		}
		s.transcribing = false
		s.lastErr = fmt.Errorf("%w: %v", ErrEncodeFailure, err)
		s.scheduleRestartLocked()
		s.mu.Unlock()
		s.publish()
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTranscriptionRequest()
	}
	start := time.Now()
	result, err := s.deps.Transcriber.Transcribe(s.ctx, wav)
	elapsed := time.Since(start).Seconds()

	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.transcribing = false

	if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordTranscriptionFailure(elapsed)
		}
		s.deps.Logger.Warn("Transcription dispatch failed", slog.String("error", err.Error()))
		s.lastErr = fmt.Errorf("%w: %v", ErrDispatchFailure, err)
		s.scheduleRestartLocked()
		s.mu.Unlock()
		s.publish()
		return
	}

	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordTranscriptionSuccess(elapsed)
	}

	if result.Text == "" || s.deps.OnTranscript == nil || !s.enabled {
		s.scheduleRestartLocked()
		s.mu.Unlock()
		s.publish()
		return
	}

	s.responding = true
	s.setPhaseLocked(PhaseAIResponding)
	onTranscript := s.deps.OnTranscript
	s.mu.Unlock()
	s.publish()

	go onTranscript(result.Text)
}

// --- speaking ---

func (s *Session) speak(gen uint64, text, key string) {
	err := s.deps.Speaker.Speak(s.ctx, text, key)

	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.speaking = false

	// Cancellation and failure end the phase the same way completion does.
	if errors.Is(err, playback.ErrCancelled) {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordPlaybackCancelled()
		}
	} else if err != nil {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordPlaybackFailure()
		}
		s.deps.Logger.Warn("Playback failed", slog.String("error", err.Error()))
	}

	s.scheduleRestartLocked()
	s.mu.Unlock()
	s.publish()
}

// --- restart sequence ---

// scheduleRestartLocked arms the debounced restart. A restart already in
// flight is never duplicated.
func (s *Session) scheduleRestartLocked() {
	if s.restartGuard || s.closed {
		return
	}
	s.restartGuard = true
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordRestartAttempted()
	}
	gen := s.generation
	time.AfterFunc(s.cfg.RestartDebounce, func() { s.finishRestart(gen) })
}

func (s *Session) finishRestart(gen uint64) {
	s.mu.Lock()
	if s.staleLocked(gen) {
		s.mu.Unlock()
		return
	}
	s.restartGuard = false

	// A disable that arrived mid-restart deferred its device release to
	// here so teardown never races the restart.
	if s.pendingRelease {
		s.pendingRelease = false
		if !s.enabled {
			s.mu.Unlock()
			s.deps.Guard.Release()
			s.publish()
			return
		}
	}

	if s.tryResumeLocked() {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRestartSucceeded()
		}
	} else if !s.enabled {
		s.setPhaseLocked(PhasePaused)
	}
	s.mu.Unlock()
	s.publish()
}

// tryResumeLocked re-validates all resume guards against live state and
// returns the session to listening when they hold.
func (s *Session) tryResumeLocked() bool {
	if !s.enabled || s.perm != permission.StatusGranted {
		return false
	}
	if s.transcribing || s.responding || s.speaking {
		return false
	}
	if s.phase == PhaseListening || s.phase == PhaseSpeechCaptured {
		return false
	}

	if s.seg != nil {
		s.seg.Start()
		s.setPhaseLocked(PhaseListening)
		return true
	}
	if s.rec != nil {
		if !s.rec.Active() {
			if err := s.rec.Start(); err != nil {
				s.deps.Logger.Warn("Manual recorder restart failed", slog.String("error", err.Error()))
				return false
			}
		}
		s.setPhaseLocked(PhaseListening)
		return true
	}
	return false
}

// --- disable and teardown ---

func (s *Session) disableLocked() {
	s.enabled = false
	if s.seg != nil {
		s.seg.Pause()
	}
	if s.rec != nil && s.rec.Active() {
		if _, err := s.rec.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
			s.deps.Logger.Debug("Manual recorder stop on disable", slog.String("error", err.Error()))
		}
	}
	if s.deps.Speaker != nil {
		s.deps.Speaker.Cancel()
	}
	s.audioLevel = 0
	s.setPhaseLocked(PhasePaused)

	// A restart in flight finishes its guard check first; the device is
	// released when it completes (I4).
	if s.restartGuard {
		s.pendingRelease = true
	} else {
		s.deps.Guard.Release()
	}
}

// --- background loops ---

// healthLoop periodically re-attempts the guarded restart so the session
// self-heals instead of staying stuck, and retries initialization after a
// transient device failure.
func (s *Session) healthLoop() {
	ticker := time.NewTicker(s.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.healthTick()
		}
	}
}

func (s *Session) healthTick() {
	s.mu.Lock()
	if s.closed || !s.enabled || s.restartGuard || s.initializing {
		s.mu.Unlock()
		return
	}

	resumed := false
	if s.seg != nil || s.rec != nil {
		resumed = s.tryResumeLocked()
	} else if s.phase == PhaseError && errors.Is(s.lastErr, ErrDeviceUnavailable) &&
		s.perm == permission.StatusGranted {
		s.lastErr = nil
		s.beginInitializeLocked()
		resumed = true
	}
	s.mu.Unlock()

	if resumed {
		s.publish()
	}
}

// levelLoop drives the audio level meter. The level tracks the device only
// while listening or capturing; every other phase pins it at zero, so a
// concurrent tick during Speaking can never raise it.
func (s *Session) levelLoop() {
	ticker := time.NewTicker(s.cfg.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.pollLevelOnce()
		}
	}
}

func (s *Session) pollLevelOnce() {
	s.mu.Lock()
	if s.phase == PhaseListening || s.phase == PhaseSpeechCaptured {
		s.audioLevel = s.deps.Guard.Level()
	} else {
		s.audioLevel = 0
	}
	level := s.audioLevel
	s.mu.Unlock()

	if s.deps.Metrics != nil {
		s.deps.Metrics.SetAudioLevel(level)
	}
}

// AudioLevel returns the most recent level meter reading.
func (s *Session) AudioLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioLevel
}

// --- internals ---

func (s *Session) staleLocked(gen uint64) bool {
	return s.closed || gen != s.generation
}

func (s *Session) setPhaseLocked(p Phase) {
	if p == s.phase {
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordPhaseTransition(s.phase.String(), p.String(), int(p))
	}
	s.deps.Logger.Debug("Phase transition",
		slog.String("from", s.phase.String()),
		slog.String("to", p.String()),
	)
	s.phase = p
	if p != PhaseListening && p != PhaseSpeechCaptured {
		s.audioLevel = 0
	}
}

func (s *Session) snapshotLocked() Snapshot {
	status := s.statusLocked()
	lastErr := ""
	if s.lastErr != nil {
		lastErr = s.lastErr.Error()
	}
	return Snapshot{
		Phase:           s.phase,
		PhaseName:       s.phase.String(),
		Enabled:         s.enabled,
		AutoSpeech:      s.autoSpeech,
		Permission:      s.perm,
		PermissionName:  s.perm.String(),
		AudioLevel:      s.audioLevel,
		SegmenterActive: s.seg != nil && s.seg.Running(),
		RecorderActive:  s.rec != nil && s.rec.Active(),
		Transcribing:    s.transcribing,
		Responding:      s.responding,
		Speaking:        s.speaking,
		RestartPending:  s.restartGuard,
		LastError:       lastErr,
		Status:          status,
	}
}

func (s *Session) statusLocked() string {
	switch s.phase {
	case PhaseIdle:
		return "voice mode off"
	case PhaseAwaitingPermission:
		return "waiting for microphone permission"
	case PhaseInitializing:
		return "starting audio"
	case PhaseListening:
		if s.rec != nil {
			return "recording (manual mode)"
		}
		return "listening"
	case PhaseSpeechCaptured:
		return "hearing you"
	case PhaseTranscribing:
		return "transcribing"
	case PhaseAIResponding:
		return "thinking"
	case PhaseSpeaking:
		return "speaking"
	case PhasePaused:
		return "paused"
	case PhaseError:
		if s.lastErr != nil {
			return "error: " + s.lastErr.Error()
		}
		return "error"
	default:
		return s.phase.String()
	}
}

func (s *Session) publish() {
	if s.deps.Notify == nil {
		return
	}
	s.deps.Notify(s.DumpState())
}
