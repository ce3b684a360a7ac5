package httpapi

import (
	"sync"

	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/foxseedlab/streamkoshin/internal/transcriber"
)

type inboundMessage struct {
	Audio         string `json:"audio,omitempty"`
	StopStreaming bool   `json:"STOP_STREAMING,omitempty"`
}

type outboundEvent struct {
	Type         string  `json:"type"`
	SessionID    string  `json:"session_id"`
	Text         string  `json:"text,omitempty"`
	IsFinal      bool    `json:"is_final,omitempty"`
	Confidence   float64 `json:"confidence"`
	TimestampMs  int64   `json:"timestamp_ms"`
	Code         string  `json:"code,omitempty"`
	Message      string  `json:"message,omitempty"`
	RestartCount int     `json:"restart_count,omitempty"`
	FinalCount   int     `json:"final_count,omitempty"`
}

func (e outboundEvent) terminal() bool {
	return e.Type == "error" || e.Type == "complete"
}

func errorEvent(sessionID string, err error) outboundEvent {
	return outboundEvent{
		Type:      "error",
		SessionID: sessionID,
		Code:      transcriber.KindOf(err).String(),
		Message:   err.Error(),
	}
}

// outbox is the per-connection session sink. Callbacks run on the session's
// goroutines and must not block on the socket, so events are buffered until
// the writer picks them up.
type outbox struct {
	mu     sync.Mutex
	items  []outboundEvent
	signal chan struct{}
}

func newOutbox() *outbox {
	return &outbox{signal: make(chan struct{}, 1)}
}

func (o *outbox) push(e outboundEvent) {
	o.mu.Lock()
	o.items = append(o.items, e)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) take() []outboundEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	items := o.items
	o.items = nil
	return items
}

func (o *outbox) OnInterim(sessionID, text string) {
	o.push(outboundEvent{Type: "interim", SessionID: sessionID, Text: text})
}

func (o *outbox) OnFinal(sessionID string, result session.TranscriptResult) {
	o.push(outboundEvent{
		Type:        "final",
		SessionID:   sessionID,
		Text:        result.Text,
		IsFinal:     true,
		Confidence:  result.Confidence,
		TimestampMs: result.CorrectedTimestampMs,
	})
}

func (o *outbox) OnError(sessionID string, err error) {
	o.push(errorEvent(sessionID, err))
}

func (o *outbox) OnComplete(sessionID string, summary session.Summary) {
	o.push(outboundEvent{
		Type:         "complete",
		SessionID:    sessionID,
		RestartCount: summary.RestartCount,
		FinalCount:   summary.FinalCount,
	})
}
