package segmenter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/skypro1111/voice-orchestrator/internal/vad"
)

// Config holds the segmentation thresholds and tuning parameters.
type Config struct {
	PositiveThreshold  float32 // speech probability to trigger speech-start
	NegativeThreshold  float32 // probability below which a frame counts toward silence
	RedemptionFrames   int     // consecutive silence frames that end a segment
	FrameSize          int     // samples per classifier frame
	PreSpeechPadFrames int     // frames kept before the trigger and prepended to the segment
	MinSpeechFrames    int     // speech runs shorter than this retract as misfires
}

// Validate checks Config and returns an error on invalid values.
func (c Config) Validate() error {
	if c.PositiveThreshold <= 0 || c.PositiveThreshold > 1 {
		return fmt.Errorf("positive threshold must be in (0, 1], got %f", c.PositiveThreshold)
	}
	if c.NegativeThreshold < 0 || c.NegativeThreshold >= c.PositiveThreshold {
		return fmt.Errorf("negative threshold must be in [0, positive), got %f", c.NegativeThreshold)
	}
	if c.RedemptionFrames < 1 {
		return fmt.Errorf("redemption frames must be at least 1, got %d", c.RedemptionFrames)
	}
	if c.FrameSize < 1 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	if c.PreSpeechPadFrames < 0 {
		return fmt.Errorf("pre-speech pad frames cannot be negative, got %d", c.PreSpeechPadFrames)
	}
	if c.MinSpeechFrames < 1 {
		return fmt.Errorf("min speech frames must be at least 1, got %d", c.MinSpeechFrames)
	}
	return nil
}

// Callbacks are invoked synchronously from the goroutine that calls Push.
// All fields are optional.
type Callbacks struct {
	OnSpeechStart func()
	// OnSpeechEnd receives the utterance samples including the pre-speech
	// padding. The slice is owned by the receiver.
	OnSpeechEnd func(samples []float32)
	OnMisfire   func()
}

// Segmenter wraps a speech classifier and emits utterance boundaries.
// Frames pushed while paused or disposed are dropped. Segment-end delivery
// completes before the next Push is processed, so a consumer that pauses
// the segmenter from OnSpeechEnd is guaranteed no further events.
type Segmenter struct {
	cfg    Config
	cb     Callbacks
	cls    vad.Classifier
	logger *slog.Logger

	mu           sync.Mutex
	running      bool
	disposed     bool
	speechActive bool
	speechFrames int
	silenceRun   int
	segment      []float32
	preBuffer    [][]float32
	preIdx       int
	preCount     int
}

// New creates a segmenter over the given classifier. The segmenter takes
// ownership of the classifier and closes it on Dispose.
func New(cfg Config, cls vad.Classifier, cb Callbacks, logger *slog.Logger) (*Segmenter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("segmenter config: %w", err)
	}
	if cls == nil {
		return nil, fmt.Errorf("segmenter: classifier is required")
	}

	pad := cfg.PreSpeechPadFrames
	if pad == 0 {
		pad = 1 // ring buffer always holds at least the triggering frame's predecessor slot
	}

	return &Segmenter{
		cfg:       cfg,
		cb:        cb,
		cls:       cls,
		logger:    logger,
		preBuffer: make([][]float32, pad),
	}, nil
}

// Start begins (or resumes) segmentation. Starting an already running
// segmenter is a no-op.
func (s *Segmenter) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || s.running {
		return
	}
	s.running = true
	s.resetSegmentLocked()
	s.cls.Reset()
	s.logger.Debug("Segmenter started")
}

// Pause suspends segmentation and drops any partial segment. Frames pushed
// while paused are discarded.
func (s *Segmenter) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed || !s.running {
		return
	}
	s.running = false
	s.resetSegmentLocked()
	s.logger.Debug("Segmenter paused")
}

// Running reports whether the segmenter is actively consuming frames.
func (s *Segmenter) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.disposed
}

// Dispose stops segmentation and closes the classifier. The segmenter must
// not be used after Dispose.
func (s *Segmenter) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.running = false
	s.resetSegmentLocked()
	cls := s.cls
	s.mu.Unlock()

	if err := cls.Close(); err != nil {
		s.logger.Warn("Classifier close failed", slog.String("error", err.Error()))
	}
	s.logger.Debug("Segmenter disposed")
}

// Push processes one frame of mono float32 samples. Boundary callbacks are
// invoked synchronously; the frame slice is copied before retention.
func (s *Segmenter) Push(frame []float32) error {
	s.mu.Lock()

	if s.disposed || !s.running {
		s.mu.Unlock()
		return nil
	}

	if len(frame) != s.cfg.FrameSize {
		s.mu.Unlock()
		return fmt.Errorf("expected %d samples per frame, got %d", s.cfg.FrameSize, len(frame))
	}

	prob, err := s.cls.SpeechProb(frame)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("classifier: %w", err)
	}

	isSpeech := prob >= s.cfg.PositiveThreshold
	isSilence := prob < s.cfg.NegativeThreshold

	frameCopy := make([]float32, len(frame))
	copy(frameCopy, frame)

	if !s.speechActive {
		s.pushPreBufferLocked(frameCopy)
		if !isSpeech {
			s.mu.Unlock()
			return nil
		}

		s.speechActive = true
		s.speechFrames = 1
		s.silenceRun = 0
		s.segment = s.collectPrePadLocked()
		cb := s.cb.OnSpeechStart
		s.mu.Unlock()

		if cb != nil {
			cb()
		}
		return nil
	}

	s.segment = append(s.segment, frameCopy...)
	if isSpeech {
		s.speechFrames++
	}
	if isSilence {
		s.silenceRun++
	} else {
		s.silenceRun = 0
	}

	if s.silenceRun < s.cfg.RedemptionFrames {
		s.mu.Unlock()
		return nil
	}

	// Trailing silence exceeded redemption: the segment ends here. Runs
	// with too few speech frames retract as misfires.
	misfire := s.speechFrames < s.cfg.MinSpeechFrames
	samples := s.segment
	s.resetSegmentLocked()
	onEnd := s.cb.OnSpeechEnd
	onMisfire := s.cb.OnMisfire
	s.mu.Unlock()

	if misfire {
		if onMisfire != nil {
			onMisfire()
		}
		return nil
	}
	if onEnd != nil {
		onEnd(samples)
	}
	return nil
}

// pushPreBufferLocked appends a frame to the pre-speech ring buffer. The
// ring holds at least one slot, so the triggering frame itself is retained
// even with no configured padding.
func (s *Segmenter) pushPreBufferLocked(frame []float32) {
	s.preBuffer[s.preIdx] = frame
	s.preIdx = (s.preIdx + 1) % len(s.preBuffer)
	if s.preCount < len(s.preBuffer) {
		s.preCount++
	}
}

// collectPrePadLocked flattens the ring buffer, oldest first. The
// triggering frame is already in the buffer, so the result includes it.
func (s *Segmenter) collectPrePadLocked() []float32 {
	if s.preCount == 0 {
		return nil
	}
	out := make([]float32, 0, s.preCount*s.cfg.FrameSize)
	start := (s.preIdx - s.preCount + len(s.preBuffer)) % len(s.preBuffer)
	for i := 0; i < s.preCount; i++ {
		idx := (start + i) % len(s.preBuffer)
		if s.preBuffer[idx] != nil {
			out = append(out, s.preBuffer[idx]...)
		}
	}
	return out
}

func (s *Segmenter) resetSegmentLocked() {
	s.speechActive = false
	s.speechFrames = 0
	s.silenceRun = 0
	s.segment = nil
	s.preIdx = 0
	s.preCount = 0
	for i := range s.preBuffer {
		s.preBuffer[i] = nil
	}
}
