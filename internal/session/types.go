package session

import (
	"context"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
)

type State int

const (
	StateIdle State = iota
	StateStreaming
	StateRestarting
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateRestarting:
		return "restarting"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session can no longer resume.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateErrored
}

// AudioChunk is one pushed PCM payload. Offset is its start position on the
// session's continuous audio timeline.
type AudioChunk struct {
	Seq        uint64
	Data       []byte
	ReceivedAt time.Time
	Offset     time.Duration
	Duration   time.Duration
}

func (c AudioChunk) End() time.Duration {
	return c.Offset + c.Duration
}

type TranscriptResult struct {
	Text                 string
	IsFinal              bool
	Confidence           float64
	RawResultEndTimeMs   int64
	CorrectedTimestampMs int64
}

type Summary struct {
	SessionID    string
	LanguageCode string
	State        State
	RestartCount int
	FinalCount   int
	AudioBytes   int64
	StartedAt    time.Time
	EndedAt      time.Time
}

// Sink receives transcripts for a session. Exactly one of OnError or
// OnComplete is called per session, after which the sink is not used again.
// Calls for one session are serialized and made without the session lock
// held, so a slow sink delays later callbacks but not audio ingestion.
// Implementations must not call back into the session they are attached to.
type Sink interface {
	OnInterim(sessionID, text string)
	OnFinal(sessionID string, result TranscriptResult)
	OnError(sessionID string, err error)
	OnComplete(sessionID string, summary Summary)
}

// StartObserver is implemented by sinks that need to know when a session
// has opened its first upstream stream.
type StartObserver interface {
	OnStart(sessionID string, summary Summary)
}

// EndObserver is implemented by sinks that need the closing summary on
// both outcomes. OnEnd runs after OnError or OnComplete; err is nil on
// completion.
type EndObserver interface {
	OnEnd(sessionID string, summary Summary, err error)
}

type MultiSink []Sink

func (m MultiSink) OnStart(sessionID string, summary Summary) {
	for _, s := range m {
		if o, ok := s.(StartObserver); ok {
			o.OnStart(sessionID, summary)
		}
	}
}

func (m MultiSink) OnEnd(sessionID string, summary Summary, err error) {
	for _, s := range m {
		if o, ok := s.(EndObserver); ok {
			o.OnEnd(sessionID, summary, err)
		}
	}
}

func (m MultiSink) OnInterim(sessionID, text string) {
	for _, s := range m {
		s.OnInterim(sessionID, text)
	}
}

func (m MultiSink) OnFinal(sessionID string, result TranscriptResult) {
	for _, s := range m {
		s.OnFinal(sessionID, result)
	}
}

func (m MultiSink) OnError(sessionID string, err error) {
	for _, s := range m {
		s.OnError(sessionID, err)
	}
}

func (m MultiSink) OnComplete(sessionID string, summary Summary) {
	for _, s := range m {
		s.OnComplete(sessionID, summary)
	}
}

// Metrics is the instrumentation surface a session reports to.
type Metrics interface {
	SessionStarted(ctx context.Context)
	SessionEnded(ctx context.Context, outcome string)
	RestartRecorded(ctx context.Context, reason string)
	TransportError(ctx context.Context, kind transcriber.Kind)
	FinalDelivered(ctx context.Context)
	AudioSent(ctx context.Context, bytes int)
}

type nopMetrics struct{}

func (nopMetrics) SessionStarted(context.Context)                   {}
func (nopMetrics) SessionEnded(context.Context, string)             {}
func (nopMetrics) RestartRecorded(context.Context, string)          {}
func (nopMetrics) TransportError(context.Context, transcriber.Kind) {}
func (nopMetrics) FinalDelivered(context.Context)                   {}
func (nopMetrics) AudioSent(context.Context, int)                   {}

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
