package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/config"
	"github.com/foxseedlab/streamkoshin/internal/transcriber"
)

const (
	defaultStreamingLimit   = 290 * time.Second
	defaultRestartMargin    = 5 * time.Second
	defaultStopDrainTimeout = 5 * time.Second
	defaultRetryBackoff     = 250 * time.Millisecond
	defaultSampleRateHertz  = 16000
	closedRetention         = 10 * time.Minute
)

var (
	ErrSessionExists   = errors.New("session already running")
	ErrSessionNotFound = errors.New("session not found")
)

// Options are the per-session streaming parameters.
type Options struct {
	LanguageCode        string
	StreamingLimit      time.Duration
	RestartMargin       time.Duration
	MaxTransientRetries int
	StopDrainTimeout    time.Duration
	RetryBackoff        time.Duration
	InterimResults      bool
	SampleRateHertz     int
	AudioChannelCount   int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		LanguageCode:        cfg.DefaultTranscribeLanguage,
		StreamingLimit:      cfg.StreamingLimit(),
		RestartMargin:       cfg.RestartMargin(),
		MaxTransientRetries: cfg.StreamingMaxTransientRetry,
		StopDrainTimeout:    cfg.StopDrainTimeout(),
		InterimResults:      cfg.StreamingInterimResults,
		SampleRateHertz:     cfg.AudioSampleRateHertz,
		AudioChannelCount:   cfg.AudioChannelCount,
	}
}

func (o Options) withDefaults() Options {
	if o.StreamingLimit <= 0 {
		o.StreamingLimit = defaultStreamingLimit
	}
	if o.RestartMargin < 0 {
		o.RestartMargin = 0
	}
	if o.RestartMargin >= o.StreamingLimit {
		o.RestartMargin = min(defaultRestartMargin, o.StreamingLimit/10)
	}
	if o.MaxTransientRetries < 0 {
		o.MaxTransientRetries = 0
	}
	if o.StopDrainTimeout <= 0 {
		o.StopDrainTimeout = defaultStopDrainTimeout
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = defaultRetryBackoff
	}
	if o.SampleRateHertz <= 0 {
		o.SampleRateHertz = defaultSampleRateHertz
	}
	if o.AudioChannelCount <= 0 {
		o.AudioChannelCount = 1
	}
	return o
}

func (o Options) streamConfig() transcriber.StreamConfig {
	return transcriber.StreamConfig{
		LanguageCode:      o.LanguageCode,
		SampleRateHertz:   o.SampleRateHertz,
		AudioChannelCount: o.AudioChannelCount,
		Encoding:          transcriber.EncodingLinear16,
		InterimResults:    o.InterimResults,
	}
}

// StartRequest overrides the manager defaults for one session. Zero fields
// keep the default.
type StartRequest struct {
	SessionID         string
	LanguageCode      string
	StreamingLimit    time.Duration
	SampleRateHertz   int
	AudioChannelCount int
	Sink              Sink
}

type Option func(*Manager)

func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

func WithMetrics(mt Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithSink attaches a sink to every session in addition to the caller's own.
func WithSink(s Sink) Option {
	return func(m *Manager) { m.sinks = append(m.sinks, s) }
}

// Manager is the registry of running sessions keyed by session id.
type Manager struct {
	transport transcriber.Transport
	defaults  Options
	clock     Clock
	metrics   Metrics
	sinks     []Sink

	mu       sync.Mutex
	sessions map[string]*Session
	closed   map[string]time.Time
}

func NewManager(transport transcriber.Transport, defaults Options, opts ...Option) *Manager {
	m := &Manager{
		transport: transport,
		defaults:  defaults,
		clock:     systemClock{},
		metrics:   nopMetrics{},
		sessions:  make(map[string]*Session),
		closed:    make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start creates a session and opens its first upstream stream.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Session, error) {
	if req.SessionID == "" {
		return nil, transcriber.NewError(transcriber.KindSessionState, "start", errors.New("session id is required"))
	}
	m.mu.Lock()
	if existing, ok := m.sessions[req.SessionID]; ok && !existing.State().Terminal() {
		m.mu.Unlock()
		return nil, transcriber.NewError(transcriber.KindSessionState, "start", fmt.Errorf("%s: %w", req.SessionID, ErrSessionExists))
	}
	s := m.newSessionLocked(req)
	m.mu.Unlock()

	if err := m.launch(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// PushAudio queues PCM for a session, creating it with the manager defaults
// when the id is unknown.
func (m *Manager) PushAudio(ctx context.Context, sessionID string, pcm []byte) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		if _, wasClosed := m.closed[sessionID]; wasClosed {
			m.mu.Unlock()
			return transcriber.NewError(transcriber.KindSessionState, "push", fmt.Errorf("%s: %w", sessionID, errSessionStopped))
		}
		s = m.newSessionLocked(StartRequest{SessionID: sessionID})
		m.mu.Unlock()
		slog.Info("session created by first audio chunk", "session_id", sessionID)
		if err := m.launch(ctx, s); err != nil {
			return err
		}
	} else {
		m.mu.Unlock()
	}
	return s.Push(pcm)
}

// Stop stops a session and waits until its terminal signal has been
// delivered or ctx ends. Stopping an already finished session is a no-op.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	_, wasClosed := m.closed[sessionID]
	m.mu.Unlock()
	if !ok {
		if wasClosed {
			return nil
		}
		return transcriber.NewError(transcriber.KindSessionState, "stop", fmt.Errorf("%s: %w", sessionID, ErrSessionNotFound))
	}

	s.Stop()
	select {
	case <-s.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown stops every running session and waits for them within ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	running := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		running = append(running, s)
	}
	m.mu.Unlock()

	for _, s := range running {
		s.Stop()
	}
	for _, s := range running {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (m *Manager) newSessionLocked(req StartRequest) *Session {
	opts := m.defaults
	if req.LanguageCode != "" {
		opts.LanguageCode = req.LanguageCode
	}
	if req.StreamingLimit > 0 {
		opts.StreamingLimit = req.StreamingLimit
	}
	if req.SampleRateHertz > 0 {
		opts.SampleRateHertz = req.SampleRateHertz
	}
	if req.AudioChannelCount > 0 {
		opts.AudioChannelCount = req.AudioChannelCount
	}
	opts = opts.withDefaults()

	sinks := make(MultiSink, 0, len(m.sinks)+1)
	if req.Sink != nil {
		sinks = append(sinks, req.Sink)
	}
	sinks = append(sinks, m.sinks...)

	s := newSession(req.SessionID, opts, m.transport, sinks, m.clock, m.metrics)
	m.sessions[req.SessionID] = s
	delete(m.closed, req.SessionID)
	return s
}

func (m *Manager) launch(ctx context.Context, s *Session) error {
	if err := s.start(ctx); err != nil {
		m.mu.Lock()
		if m.sessions[s.id] == s {
			delete(m.sessions, s.id)
		}
		m.mu.Unlock()
		slog.Error("failed to start session", "error", err, "session_id", s.id)
		return err
	}
	go m.reap(s)
	return nil
}

// reap moves a finished session from the registry to the closed set.
func (m *Manager) reap(s *Session) {
	<-s.Done()
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.id] == s {
		delete(m.sessions, s.id)
		m.closed[s.id] = now
	}
	for id, at := range m.closed {
		if now.Sub(at) > closedRetention {
			delete(m.closed, id)
		}
	}
}
