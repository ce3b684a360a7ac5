package transcript

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/repository"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/foxseedlab/streamkoshin/internal/transcriber"
	"github.com/foxseedlab/streamkoshin/internal/webhook"
)

const operationTimeout = 5 * time.Second

// Recorder is a session sink that keeps the final segments of every session,
// persists them when a repository is configured and posts a summary to the
// webhook when the session ends.
type Recorder struct {
	repo    repository.Repository
	webhook webhook.Sender

	mu      sync.Mutex
	records map[string]*record
}

type record struct {
	repoID   string
	segments []repository.TranscriptSegment
}

// NewRecorder returns a recorder. repo and wh may be nil.
func NewRecorder(repo repository.Repository, wh webhook.Sender) *Recorder {
	return &Recorder{
		repo:    repo,
		webhook: wh,
		records: make(map[string]*record),
	}
}

func (r *Recorder) OnStart(sessionID string, summary session.Summary) {
	rec := &record{}
	if r.repo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
		created, err := r.repo.CreateSession(ctx, repository.CreateSessionInput{
			SessionKey:   sessionID,
			LanguageCode: summary.LanguageCode,
			StartedAt:    summary.StartedAt,
		})
		cancel()
		if err != nil {
			slog.Error("failed to create session in repository", "error", err, "session_id", sessionID)
		} else {
			rec.repoID = created.ID
		}
	}

	r.mu.Lock()
	r.records[sessionID] = rec
	r.mu.Unlock()
}

func (r *Recorder) OnInterim(string, string) {}

func (r *Recorder) OnFinal(sessionID string, result session.TranscriptResult) {
	if strings.TrimSpace(result.Text) == "" {
		return
	}
	r.mu.Lock()
	rec, ok := r.records[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	seg := repository.TranscriptSegment{
		SessionID:    rec.repoID,
		Content:      result.Text,
		SegmentIndex: len(rec.segments),
		Confidence:   result.Confidence,
		OffsetMs:     result.CorrectedTimestampMs,
	}
	rec.segments = append(rec.segments, seg)
	r.mu.Unlock()

	if r.repo == nil || seg.SessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()
	if err := r.repo.InsertSegment(ctx, repository.InsertSegmentInput{
		SessionID:    seg.SessionID,
		Content:      seg.Content,
		SegmentIndex: seg.SegmentIndex,
		Confidence:   seg.Confidence,
		OffsetMs:     seg.OffsetMs,
	}); err != nil {
		slog.Error("failed to insert segment", "error", err, "session_id", sessionID, "segment_index", seg.SegmentIndex)
	}
}

func (r *Recorder) OnError(sessionID string, err error) {
	slog.Warn("recording failed session", "session_id", sessionID, "error", err)
}

func (r *Recorder) OnComplete(string, session.Summary) {}

// OnEnd closes the persisted session and sends the webhook summary.
func (r *Recorder) OnEnd(sessionID string, summary session.Summary, cause error) {
	r.mu.Lock()
	rec, ok := r.records[sessionID]
	delete(r.records, sessionID)
	r.mu.Unlock()
	if !ok {
		return
	}

	status := repository.SessionStatusCompleted
	if cause != nil {
		status = repository.SessionStatusFailed
	}

	ctx, cancel := context.WithTimeout(context.Background(), operationTimeout)
	defer cancel()

	segments := rec.segments
	if r.repo != nil && rec.repoID != "" {
		in := repository.FinishSessionInput{
			ID:           rec.repoID,
			EndedAt:      summary.EndedAt,
			Status:       status,
			RestartCount: summary.RestartCount,
			FinalCount:   summary.FinalCount,
			AudioBytes:   summary.AudioBytes,
		}
		if cause != nil {
			in.ErrorKind = transcriber.KindOf(cause).String()
			in.ErrorMessage = cause.Error()
		}
		if err := r.repo.FinishSession(ctx, in); err != nil {
			slog.Error("failed to finish session in repository", "error", err, "session_id", sessionID)
		}
		if stored, err := r.repo.ListSegmentsBySessionID(ctx, rec.repoID); err != nil {
			slog.Error("failed to list transcript segments", "error", err, "session_id", sessionID)
		} else {
			segments = stored
		}
	}

	if r.webhook == nil {
		return
	}
	payload := BuildWebhookPayload(summary, status, cause, segments)
	if err := r.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", sessionID)
		return
	}
	slog.Info("transcript webhook sent", "session_id", sessionID, "segment_count", len(segments))
}
