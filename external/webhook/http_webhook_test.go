package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/foxseedlab/streamkoshin/internal/webhook"
)

func TestSendTranscript_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendTranscript(context.Background(), webhook.TranscriptWebhookPayload{SessionID: "s1"}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendTranscript_Success(t *testing.T) {
	var got webhook.TranscriptWebhookPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type: %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	payload := webhook.TranscriptWebhookPayload{
		SchemaVersion: webhook.TranscriptWebhookSchemaVersion,
		SessionID:     "s1",
		RestartCount:  2,
		SegmentCount:  1,
		TranscriptSegments: []webhook.TranscriptWebhookSegment{
			{Index: 0, OffsetMs: 295000, Confidence: 0.9, Transcript: "hello world"},
		},
		Transcript: "hello world",
	}
	if err := sender.SendTranscript(context.Background(), payload); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.SessionID != "s1" || got.RestartCount != 2 || got.Transcript != "hello world" {
		t.Fatalf("unexpected payload: %+v", got)
	}
	if len(got.TranscriptSegments) != 1 || got.TranscriptSegments[0].OffsetMs != 295000 {
		t.Fatalf("unexpected segments: %+v", got.TranscriptSegments)
	}
}

func TestSendTranscript_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("unknown field \"segments\"\n"))
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	err := sender.SendTranscript(context.Background(), webhook.TranscriptWebhookPayload{SessionID: "s1"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusBadRequest || statusErr.SessionID != "s1" {
		t.Fatalf("unexpected status error: %+v", statusErr)
	}
	if statusErr.Body != `unknown field "segments"` {
		t.Fatalf("unexpected body snippet: %q", statusErr.Body)
	}
}

func TestSendTranscript_TruncatesLongErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	}))
	defer server.Close()

	err := NewHTTPSender(server.URL).SendTranscript(context.Background(), webhook.TranscriptWebhookPayload{SessionID: "s1"})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("expected StatusError, got %v", err)
	}
	if len(statusErr.Body) != maxErrorBodyBytes {
		t.Fatalf("expected body truncated to %d bytes, got %d", maxErrorBodyBytes, len(statusErr.Body))
	}
}

func TestNewHTTPSender_SetsClientTimeout(t *testing.T) {
	sender, ok := NewHTTPSender("http://example.invalid").(*HTTPSender)
	if !ok {
		t.Fatal("expected *HTTPSender")
	}
	if sender.client.Timeout != requestTimeout {
		t.Fatalf("expected timeout %s, got %s", requestTimeout, sender.client.Timeout)
	}
}
