package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

// errStopRequested ends the read loop when the client sends STOP_STREAMING.
var errStopRequested = errors.New("stop requested by client")

// handleStream bridges one WebSocket connection to one session. Audio
// arrives as binary PCM frames or as {"audio": base64} text frames and
// transcripts are written back as JSON events.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	logger := slog.With("session_id", sessionID, "remote_addr", r.RemoteAddr)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := newOutbox()
	if _, err := s.sessions.Start(ctx, session.StartRequest{
		SessionID:    sessionID,
		LanguageCode: q.Get("language"),
		Sink:         out,
	}); err != nil {
		logger.Error("failed to start session", "error", err)
		wctx, wcancel := context.WithTimeout(ctx, writeTimeout)
		_ = wsjson.Write(wctx, conn, errorEvent(sessionID, err))
		wcancel()
		_ = conn.Close(websocket.StatusInternalError, "failed to start session")
		return
	}
	logger.Info("websocket stream opened")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		s.writeEvents(ctx, conn, out)
	}()

	readErr := s.readAudio(ctx, conn, sessionID)
	switch {
	case errors.Is(readErr, errStopRequested):
		logger.Info("client requested stop")
	case websocket.CloseStatus(readErr) != -1:
		logger.Info("client closed websocket", "status", websocket.CloseStatus(readErr))
	case readErr != nil && ctx.Err() == nil:
		logger.Warn("websocket stream ended", "error", readErr)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), s.stopTimeout)
	if err := s.sessions.Stop(stopCtx, sessionID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		logger.Warn("failed to stop session", "error", err)
	}
	stopCancel()

	select {
	case <-writerDone:
	case <-time.After(writeTimeout):
		cancel()
		<-writerDone
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (s *Server) readAudio(ctx context.Context, conn *websocket.Conn, sessionID string) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		pcm := data
		if typ == websocket.MessageText {
			var msg inboundMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				slog.Warn("ignoring malformed message", "error", err, "session_id", sessionID)
				continue
			}
			if msg.StopStreaming {
				return errStopRequested
			}
			pcm, err = base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				slog.Warn("ignoring undecodable audio", "error", err, "session_id", sessionID)
				continue
			}
		}
		if err := s.sessions.PushAudio(ctx, sessionID, pcm); err != nil {
			return err
		}
	}
}

// writeEvents forwards sink events to the socket until the terminal event
// has been written, the socket fails or ctx ends.
func (s *Server) writeEvents(ctx context.Context, conn *websocket.Conn, out *outbox) {
	for {
		for _, ev := range out.take() {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				slog.Debug("failed to write event", "error", err, "session_id", ev.SessionID)
				return
			}
			if ev.terminal() {
				return
			}
		}
		select {
		case <-out.signal:
		case <-ctx.Done():
			return
		}
	}
}
