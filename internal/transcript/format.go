package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/repository"
	"github.com/foxseedlab/streamkoshin/internal/session"
	"github.com/foxseedlab/streamkoshin/internal/webhook"
)

// BuildText renders one line per segment, prefixed with the segment's
// position in the session audio.
func BuildText(segments []repository.TranscriptSegment) string {
	lines := make([]string, 0, len(segments))
	for _, seg := range segments {
		lines = append(lines, FormatLine(seg.OffsetMs, seg.Content))
	}
	return strings.Join(lines, "\n")
}

func FormatLine(offsetMs int64, text string) string {
	return fmt.Sprintf("%s %s", formatElapsedHMS(time.Duration(offsetMs)*time.Millisecond), text)
}

func BuildWebhookPayload(summary session.Summary, status repository.SessionStatus, cause error, segments []repository.TranscriptSegment) webhook.TranscriptWebhookPayload {
	durationSeconds := int64(summary.EndedAt.Sub(summary.StartedAt).Seconds())
	if durationSeconds < 0 {
		durationSeconds = 0
	}
	transcriptLines := make([]string, 0, len(segments))
	out := make([]webhook.TranscriptWebhookSegment, 0, len(segments))
	for _, seg := range segments {
		transcriptLines = append(transcriptLines, seg.Content)
		out = append(out, webhook.TranscriptWebhookSegment{
			Index:      seg.SegmentIndex,
			OffsetMs:   seg.OffsetMs,
			Confidence: seg.Confidence,
			Transcript: seg.Content,
		})
	}

	p := webhook.TranscriptWebhookPayload{
		SchemaVersion:      webhook.TranscriptWebhookSchemaVersion,
		SessionID:          summary.SessionID,
		LanguageCode:       summary.LanguageCode,
		Status:             string(status),
		StartAt:            summary.StartedAt.UTC().Format(time.RFC3339),
		EndAt:              summary.EndedAt.UTC().Format(time.RFC3339),
		DurationSeconds:    durationSeconds,
		RestartCount:       summary.RestartCount,
		SegmentCount:       len(segments),
		TranscriptSegments: out,
		Transcript:         strings.Join(transcriptLines, "\n"),
	}
	if cause != nil {
		p.Error = cause.Error()
	}
	return p
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
