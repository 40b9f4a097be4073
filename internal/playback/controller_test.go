package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeSynth struct {
	mu      sync.Mutex
	calls   []string
	block   chan struct{} // when set, SynthesizeAndPlay waits for ctx or close
	err     error
	started chan struct{}
}

func (f *fakeSynth) SynthesizeAndPlay(ctx context.Context, text, voice string) error {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	block := f.block
	started := f.started
	err := f.err
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-block:
		}
	}
	return err
}

func (f *fakeSynth) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestControllerSpeaksSanitizedText(t *testing.T) {
	synth := &fakeSynth{}
	c := NewController(synth, "default", discardLogger())

	if err := c.Speak(context.Background(), "**Hello** world", "k1"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if synth.callCount() != 1 {
		t.Fatalf("Expected 1 synthesis call, got %d", synth.callCount())
	}
	if synth.calls[0] != "Hello world" {
		t.Errorf("Expected sanitized text, got %q", synth.calls[0])
	}
}

func TestControllerEmptyTextIsNoOp(t *testing.T) {
	synth := &fakeSynth{}
	c := NewController(synth, "default", discardLogger())

	if err := c.Speak(context.Background(), "<think>silent</think>", "k1"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if synth.callCount() != 0 {
		t.Errorf("Expected no synthesis for empty text, got %d calls", synth.callCount())
	}
}

func TestControllerDeduplicatesKeys(t *testing.T) {
	synth := &fakeSynth{}
	c := NewController(synth, "default", discardLogger())

	if err := c.Speak(context.Background(), "hello", "k1"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if err := c.Speak(context.Background(), "hello", "k1"); err != nil {
		t.Fatalf("Duplicate Speak failed: %v", err)
	}
	if err := c.Speak(context.Background(), "hello", "k2"); err != nil {
		t.Fatalf("Speak failed: %v", err)
	}

	if synth.callCount() != 2 {
		t.Errorf("Expected 2 synthesis calls for 3 speaks with one dup, got %d", synth.callCount())
	}
}

func TestControllerCancelResolvesInFlight(t *testing.T) {
	synth := &fakeSynth{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := NewController(synth, "default", discardLogger())

	done := make(chan error, 1)
	go func() {
		done <- c.Speak(context.Background(), "long reply", "k1")
	}()

	<-synth.started
	c.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not resolve after Cancel")
	}
}

func TestControllerUnhealthyRefusesSpeak(t *testing.T) {
	synth := &fakeSynth{}
	c := NewController(synth, "default", discardLogger())

	c.SetHealth(false)
	if c.Healthy() {
		t.Error("Expected Healthy to report false")
	}
	if err := c.Speak(context.Background(), "hello", "k1"); !errors.Is(err, ErrUnhealthy) {
		t.Errorf("Expected ErrUnhealthy, got %v", err)
	}
	if synth.callCount() != 0 {
		t.Errorf("Expected no synthesis while unhealthy, got %d", synth.callCount())
	}
}

func TestControllerHealthTransitionsNotify(t *testing.T) {
	synth := &fakeSynth{}
	c := NewController(synth, "default", discardLogger())

	var transitions []bool
	c.OnHealthChange(func(h bool) { transitions = append(transitions, h) })

	c.SetHealth(true)  // no change, starts healthy
	c.SetHealth(false) // transition
	c.SetHealth(false) // no change
	c.SetHealth(true)  // transition

	if len(transitions) != 2 || transitions[0] != false || transitions[1] != true {
		t.Errorf("Expected transitions [false true], got %v", transitions)
	}
}

func TestControllerUnhealthyCancelsInFlight(t *testing.T) {
	synth := &fakeSynth{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	c := NewController(synth, "default", discardLogger())

	done := make(chan error, 1)
	go func() {
		done <- c.Speak(context.Background(), "long reply", "k1")
	}()

	<-synth.started
	c.SetHealth(false)

	select {
	case err := <-done:
		if !errors.Is(err, ErrCancelled) {
			t.Errorf("Expected ErrCancelled on health loss, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Speak did not resolve after health loss")
	}
}

func TestControllerSynthesisErrorPropagates(t *testing.T) {
	synthErr := errors.New("backend exploded")
	synth := &fakeSynth{err: synthErr}
	c := NewController(synth, "default", discardLogger())

	if err := c.Speak(context.Background(), "hello", "k1"); !errors.Is(err, synthErr) {
		t.Errorf("Expected backend error, got %v", err)
	}
}

func TestHTTPSynthesizerPostsText(t *testing.T) {
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, err := NewHTTPSynthesizer(SynthesizerConfig{Endpoint: srv.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer failed: %v", err)
	}

	if err := s.SynthesizeAndPlay(context.Background(), "hello", "nova"); err != nil {
		t.Fatalf("SynthesizeAndPlay failed: %v", err)
	}
	if gotPath != "/synthesize" {
		t.Errorf("Expected POST /synthesize, got %s", gotPath)
	}
	if gotBody != `{"text":"hello","voice":"nova"}` {
		t.Errorf("Unexpected request body: %s", gotBody)
	}
}

func TestHTTPSynthesizerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := NewHTTPSynthesizer(SynthesizerConfig{Endpoint: srv.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer failed: %v", err)
	}

	if err := s.SynthesizeAndPlay(context.Background(), "hello", ""); err == nil {
		t.Error("Expected error for 503 response")
	}
}

func TestHTTPSynthesizerHealth(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if healthy {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	s, err := NewHTTPSynthesizer(SynthesizerConfig{Endpoint: srv.URL}, discardLogger())
	if err != nil {
		t.Fatalf("NewHTTPSynthesizer failed: %v", err)
	}

	if !s.CheckHealth(context.Background()) {
		t.Error("Expected healthy backend")
	}
	healthy = false
	if s.CheckHealth(context.Background()) {
		t.Error("Expected unhealthy backend")
	}
}

func TestHTTPSynthesizerRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPSynthesizer(SynthesizerConfig{}, discardLogger()); err == nil {
		t.Error("Expected error for empty endpoint")
	}
}
