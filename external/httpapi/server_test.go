package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"github.com/google/uuid"
)

type mockSessions struct {
	mu       sync.Mutex
	reqs     []session.StartRequest
	sink     session.Sink
	pushes   [][]byte
	stops    []string
	ended    bool
	startErr error
}

func (m *mockSessions) Start(_ context.Context, req session.StartRequest) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return nil, m.startErr
	}
	m.reqs = append(m.reqs, req)
	m.sink = req.Sink
	return nil, nil
}

func (m *mockSessions) PushAudio(_ context.Context, _ string, pcm []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, pcm)
	return nil
}

func (m *mockSessions) Stop(_ context.Context, sessionID string) error {
	m.mu.Lock()
	m.stops = append(m.stops, sessionID)
	sink, ended := m.sink, m.ended
	m.ended = true
	m.mu.Unlock()
	if !ended && sink != nil {
		sink.OnFinal(sessionID, session.TranscriptResult{Text: "flushed", IsFinal: true, Confidence: 0.9, CorrectedTimestampMs: 295000})
		sink.OnComplete(sessionID, session.Summary{SessionID: sessionID, RestartCount: 1, FinalCount: 1})
	}
	return nil
}

func (m *mockSessions) fail(err error) {
	m.mu.Lock()
	sink := m.sink
	m.ended = true
	m.mu.Unlock()
	sink.OnError(m.reqs[0].SessionID, err)
}

func (m *mockSessions) snapshot() (reqs int, pushes [][]byte, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reqs), append([][]byte(nil), m.pushes...), len(m.stops)
}

type mockPinger struct{ err error }

func (p mockPinger) Ping(context.Context) error { return p.err }

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, message string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(message)
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) outboundEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var ev outboundEvent
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	return ev
}

func TestStream_PushesAudioAndFlushesOnStop(t *testing.T) {
	sessions := &mockSessions{}
	srv := httptest.NewServer(NewServer(sessions).Handler())
	defer srv.Close()

	conn := dial(t, srv, "?session_id=s1&language=ja-JP")
	ctx := context.Background()

	if err := conn.Write(ctx, websocket.MessageBinary, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("failed to write binary frame: %v", err)
	}
	audio := base64.StdEncoding.EncodeToString([]byte{5, 6})
	if err := wsjson.Write(ctx, conn, inboundMessage{Audio: audio}); err != nil {
		t.Fatalf("failed to write text frame: %v", err)
	}
	waitUntil(t, 2*time.Second, func() bool {
		_, pushes, _ := sessions.snapshot()
		return len(pushes) == 2
	}, "expected two pushes")

	if err := wsjson.Write(ctx, conn, inboundMessage{StopStreaming: true}); err != nil {
		t.Fatalf("failed to write stop: %v", err)
	}

	final := readEvent(t, conn)
	if final.Type != "final" || final.Text != "flushed" || final.TimestampMs != 295000 {
		t.Fatalf("unexpected final event: %+v", final)
	}
	complete := readEvent(t, conn)
	if complete.Type != "complete" || complete.RestartCount != 1 {
		t.Fatalf("unexpected complete event: %+v", complete)
	}

	_, pushes, stops := sessions.snapshot()
	if string(pushes[0]) != string([]byte{1, 2, 3, 4}) || string(pushes[1]) != string([]byte{5, 6}) {
		t.Fatalf("unexpected pushes: %v", pushes)
	}
	if stops != 1 {
		t.Fatalf("expected one stop, got %d", stops)
	}
	if sessions.reqs[0].SessionID != "s1" || sessions.reqs[0].LanguageCode != "ja-JP" {
		t.Fatalf("unexpected start request: %+v", sessions.reqs[0])
	}
}

func TestStream_GeneratesSessionIDAndStopsOnClose(t *testing.T) {
	sessions := &mockSessions{}
	srv := httptest.NewServer(NewServer(sessions).Handler())
	defer srv.Close()

	conn := dial(t, srv, "")
	waitUntil(t, 2*time.Second, func() bool {
		reqs, _, _ := sessions.snapshot()
		return reqs == 1
	}, "expected session to start")
	if _, err := uuid.Parse(sessions.reqs[0].SessionID); err != nil {
		t.Fatalf("expected generated uuid, got %q", sessions.reqs[0].SessionID)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitUntil(t, 2*time.Second, func() bool {
		_, _, stops := sessions.snapshot()
		return stops == 1
	}, "expected session to stop when the socket closes")
}

func TestStream_ReportsPermissionDenied(t *testing.T) {
	sessions := &mockSessions{}
	srv := httptest.NewServer(NewServer(sessions).Handler())
	defer srv.Close()

	conn := dial(t, srv, "?session_id=s1")
	waitUntil(t, 2*time.Second, func() bool {
		reqs, _, _ := sessions.snapshot()
		return reqs == 1
	}, "expected session to start")

	sessions.fail(transcriber.NewError(transcriber.KindPermissionDenied, "recv", errors.New("denied")))
	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Code != "permission_denied" {
		t.Fatalf("unexpected error event: %+v", ev)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := conn.Read(ctx); err == nil {
		t.Fatal("expected the server to close the socket after a terminal error")
	}
}

func TestStream_StartFailure(t *testing.T) {
	sessions := &mockSessions{startErr: transcriber.NewError(transcriber.KindQuotaExceeded, "open", errors.New("quota"))}
	srv := httptest.NewServer(NewServer(sessions).Handler())
	defer srv.Close()

	conn := dial(t, srv, "?session_id=s1")
	ev := readEvent(t, conn)
	if ev.Type != "error" || ev.Code != "quota_exceeded" {
		t.Fatalf("unexpected error event: %+v", ev)
	}
}

func TestHealthAndReadiness(t *testing.T) {
	srv := httptest.NewServer(NewServer(&mockSessions{}, WithReadiness(mockPinger{err: errors.New("db down")})).Handler())
	defer srv.Close()

	cases := []struct {
		path   string
		status int
	}{
		{"/healthz", http.StatusOK},
		{"/readyz", http.StatusServiceUnavailable},
		{"/metrics", http.StatusOK},
	}
	for _, tc := range cases {
		resp, err := http.Get(srv.URL + tc.path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", tc.path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("GET %s: expected %d, got %d", tc.path, tc.status, resp.StatusCode)
		}
	}
}

func TestReadiness_WithoutDatabase(t *testing.T) {
	rec := httptest.NewRecorder()
	NewServer(&mockSessions{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected ready without database, got %d", rec.Code)
	}
}
