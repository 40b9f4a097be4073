package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the voice orchestrator
type Metrics struct {
	// Segmentation metrics
	SegmentsCaptured  prometheus.Counter
	SegmentsDiscarded prometheus.Counter
	SegmentMisfires   prometheus.Counter
	SegmentDuration   prometheus.Histogram

	// Restart metrics
	RestartsAttempted prometheus.Counter
	RestartsSucceeded prometheus.Counter

	// Transcription metrics
	TranscriptionRequests prometheus.Counter
	TranscriptionFailures prometheus.Counter
	TranscriptionDuration prometheus.Histogram

	// Playback metrics
	PlaybackRequests  prometheus.Counter
	PlaybackCancelled prometheus.Counter
	PlaybackFailures  prometheus.Counter

	// Session metrics
	PhaseTransitions *prometheus.CounterVec
	CurrentPhase     prometheus.Gauge
	AudioLevel       prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates all metrics registered against the given registerer.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh
// registry to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Segmentation metrics
		SegmentsCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_segments_captured_total",
			Help: "Total number of speech segments captured and dispatched",
		}),
		SegmentsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_segments_discarded_total",
			Help: "Total number of speech segments discarded because a turn was in flight",
		}),
		SegmentMisfires: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_segment_misfires_total",
			Help: "Total number of retracted too-short speech bursts",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_segment_duration_seconds",
			Help:    "Duration of captured speech segments",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 0.25s to ~32s
		}),

		// Restart metrics
		RestartsAttempted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_restarts_attempted_total",
			Help: "Total number of guarded listening restarts attempted",
		}),
		RestartsSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_restarts_succeeded_total",
			Help: "Total number of restarts that returned the session to listening",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voice_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// Playback metrics
		PlaybackRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_requests_total",
			Help: "Total number of reply utterances dispatched to the synthesizer",
		}),
		PlaybackCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_cancelled_total",
			Help: "Total number of utterances cancelled mid-playback",
		}),
		PlaybackFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voice_playback_failures_total",
			Help: "Total number of failed playback attempts",
		}),

		// Session metrics
		PhaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_phase_transitions_total",
			Help: "Total number of session phase transitions",
		}, []string{"from", "to"}),
		CurrentPhase: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_session_phase",
			Help: "Current session phase as its numeric code",
		}),
		AudioLevel: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voice_audio_level",
			Help: "Most recent microphone RMS level in [0, 1]",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voice_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voice_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordSegmentCaptured records a dispatched speech segment
func (m *Metrics) RecordSegmentCaptured(durationSeconds float64) {
	m.SegmentsCaptured.Inc()
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordSegmentDiscarded increments the discarded segments counter
func (m *Metrics) RecordSegmentDiscarded() {
	m.SegmentsDiscarded.Inc()
}

// RecordSegmentMisfire increments the misfire counter
func (m *Metrics) RecordSegmentMisfire() {
	m.SegmentMisfires.Inc()
}

// RecordRestartAttempted increments the restart attempts counter
func (m *Metrics) RecordRestartAttempted() {
	m.RestartsAttempted.Inc()
}

// RecordRestartSucceeded increments the successful restarts counter
func (m *Metrics) RecordRestartSucceeded() {
	m.RestartsSucceeded.Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordPlaybackRequest increments the playback requests counter
func (m *Metrics) RecordPlaybackRequest() {
	m.PlaybackRequests.Inc()
}

// RecordPlaybackCancelled increments the cancelled playback counter
func (m *Metrics) RecordPlaybackCancelled() {
	m.PlaybackCancelled.Inc()
}

// RecordPlaybackFailure increments the failed playback counter
func (m *Metrics) RecordPlaybackFailure() {
	m.PlaybackFailures.Inc()
}

// RecordPhaseTransition records a phase change and updates the phase gauge
func (m *Metrics) RecordPhaseTransition(from, to string, toCode int) {
	m.PhaseTransitions.WithLabelValues(from, to).Inc()
	m.CurrentPhase.Set(float64(toCode))
}

// SetAudioLevel sets the audio level gauge
func (m *Metrics) SetAudioLevel(level float64) {
	m.AudioLevel.Set(level)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
