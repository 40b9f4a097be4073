package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/voice-orchestrator/internal/audio"
	"github.com/skypro1111/voice-orchestrator/internal/config"
	"github.com/skypro1111/voice-orchestrator/internal/metrics"
	"github.com/skypro1111/voice-orchestrator/internal/permission"
	"github.com/skypro1111/voice-orchestrator/internal/playback"
	"github.com/skypro1111/voice-orchestrator/internal/record"
	"github.com/skypro1111/voice-orchestrator/internal/segmenter"
	"github.com/skypro1111/voice-orchestrator/internal/server"
	"github.com/skypro1111/voice-orchestrator/internal/session"
	"github.com/skypro1111/voice-orchestrator/internal/transcription"
	"github.com/skypro1111/voice-orchestrator/internal/vad"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "voice-orchestrator"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	// Log service startup
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("frame_size", cfg.Audio.FrameSize),
		slog.String("vad_model_path", cfg.Segmenter.ModelPath),
		slog.Float64("positive_threshold", float64(cfg.Segmenter.PositiveThreshold)),
		slog.Int("restart_debounce_ms", cfg.Orchestrator.RestartDebounceMs),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.Bool("tts_enabled", cfg.TTS.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	// Microphone device guard and the permission provider built on it
	guard := audio.NewDeviceGuard(cfg.Audio.SampleRate, cfg.Audio.FrameSize, logger)
	perms := permission.NewDeviceProvider(guard, audio.ErrPermissionDenied, logger)

	// Transcription client
	transClient, err := transcription.NewClient(transcription.Config{
		Endpoint:      cfg.Transcription.Endpoint,
		APIKey:        cfg.Transcription.APIKey,
		Language:      cfg.Transcription.Language,
		Model:         cfg.Transcription.Model,
		Timeout:       cfg.Transcription.GetTimeoutDuration(),
		MaxRetries:    cfg.Transcription.MaxRetries,
		MaxConcurrent: cfg.Transcription.MaxConcurrent,
	})
	if err != nil {
		logger.Error("Failed to create transcription client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Playback controller over the TTS backend (optional)
	var speaker *playback.Controller
	if cfg.TTS.Enabled {
		synth, err := playback.NewHTTPSynthesizer(playback.SynthesizerConfig{
			Endpoint:       cfg.TTS.Endpoint,
			APIKey:         cfg.TTS.APIKey,
			Timeout:        cfg.TTS.GetTimeoutDuration(),
			HealthInterval: cfg.TTS.GetHealthIntervalDuration(),
		}, logger)
		if err != nil {
			logger.Error("Failed to create TTS synthesizer", slog.String("error", err.Error()))
			os.Exit(1)
		}
		speaker = playback.NewController(synth, cfg.TTS.Voice, logger)
		synth.StartHealthPolling(ctx, speaker.SetHealth)
		logger.Info("TTS playback initialized", slog.String("endpoint", cfg.TTS.Endpoint))
	}

	// Segmenter factory: classifier + segmenter fed by the capture stream.
	// Disposing the segmenter unsubscribes it from the guard.
	newSegmenter := func(_ context.Context, events session.SegmentEvents) (session.Segmenter, error) {
		cls := vad.NewClassifier(vad.ClassifierConfig{
			ModelPath:  cfg.Segmenter.ModelPath,
			SampleRate: cfg.Audio.SampleRate,
			FrameSize:  cfg.Audio.FrameSize,
		}, logger)

		seg, err := segmenter.New(segmenter.Config{
			PositiveThreshold:  cfg.Segmenter.PositiveThreshold,
			NegativeThreshold:  cfg.Segmenter.NegativeThreshold,
			RedemptionFrames:   cfg.Segmenter.RedemptionFrames,
			FrameSize:          cfg.Audio.FrameSize,
			PreSpeechPadFrames: cfg.Segmenter.PreSpeechPadFrames,
			MinSpeechFrames:    cfg.Segmenter.MinSpeechFrames,
		}, cls, segmenter.Callbacks{
			OnSpeechStart: events.OnSpeechStart,
			OnSpeechEnd:   events.OnSpeechEnd,
			OnMisfire:     events.OnMisfire,
		}, logger)
		if err != nil {
			return nil, err
		}

		unsubscribe := guard.Subscribe(func(frame []float32) {
			if err := seg.Push(frame); err != nil {
				logger.Warn("Segmenter push failed", slog.String("error", err.Error()))
			}
		})
		return &capturedSegmenter{Segmenter: seg, unsubscribe: unsubscribe}, nil
	}

	// Manual recorder factory for the push-to-talk fallback
	newRecorder := func() (session.Recorder, error) {
		rec, err := record.NewManualRecorder(guardFrames{guard},
			cfg.Audio.SampleRate, cfg.Audio.ManualMaxDuration, logger)
		if err != nil {
			return nil, err
		}
		return rec, nil
	}

	// The reply generator is external; the standalone binary echoes each
	// transcript back as the reply so the full turn is exercised.
	var sess *session.Session

	deps := session.Deps{
		Guard:        guard,
		Permissions:  perms,
		NewSegmenter: newSegmenter,
		NewRecorder:  newRecorder,
		Transcriber:  transClient,
		OnTranscript: func(text string) {
			logger.Info("Transcript", slog.String("text", text))
			sess.ReplyReady(text, time.Now())
		},
		Notify: func(snap session.Snapshot) {
			logger.Debug("Session state",
				slog.String("phase", snap.PhaseName),
				slog.Bool("enabled", snap.Enabled),
				slog.String("status", snap.Status),
			)
		},
		Metrics: appMetrics,
		Logger:  logger,
	}
	if speaker != nil {
		deps.Speaker = speaker
	}

	sess, err = session.NewSession(session.Config{
		SampleRate:      cfg.Audio.SampleRate,
		RestartDebounce: cfg.Orchestrator.GetRestartDebounce(),
		HealthInterval:  cfg.Orchestrator.GetHealthInterval(),
		LevelInterval:   cfg.Orchestrator.GetLevelInterval(),
		InitTimeout:     cfg.Orchestrator.GetSegmenterInitTimeout(),
	}, deps)
	if err != nil {
		logger.Error("Failed to create session", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Session initialized")

	sess.SetAutoSpeech(cfg.Orchestrator.AutoSpeech)

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpConfig := server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
			Enabled: cfg.HTTP.Enabled,
		}
		httpServer = server.NewHTTPServer(httpConfig, logger, sess, transClient, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)

		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Enable voice mode immediately when configured
	if cfg.Orchestrator.AutoEnable {
		sess.SetEnabled(true)
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...")

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Close the session (disposes capture, cancels playback, releases the device)
	sess.Close()

	// Close the transcription client and report final statistics
	transClient.Close()
	stats := transClient.GetStats()
	logger.Info("Final transcription statistics",
		slog.Uint64("total_requests", stats.TotalRequests),
		slog.Uint64("success_requests", stats.SuccessRequests),
		slog.Uint64("failed_requests", stats.FailedRequests),
	)

	logger.Info("Service stopped")
}

// capturedSegmenter ties a segmenter to its capture subscription so that
// disposing the segmenter also detaches it from the device guard.
type capturedSegmenter struct {
	*segmenter.Segmenter
	unsubscribe func()
}

func (c *capturedSegmenter) Dispose() {
	c.unsubscribe()
	c.Segmenter.Dispose()
}

// guardFrames adapts the device guard to the recorder's frame source.
type guardFrames struct {
	guard *audio.DeviceGuard
}

func (g guardFrames) Subscribe(sink func([]float32)) func() {
	return g.guard.Subscribe(sink)
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	// Configure handler options
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		// Default to text format
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
