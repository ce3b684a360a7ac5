package webhook

import "context"

const TranscriptWebhookSchemaVersion = "1"

type TranscriptWebhookSegment struct {
	Index      int     `json:"index"`
	OffsetMs   int64   `json:"offset_ms"`
	Confidence float64 `json:"confidence"`
	Transcript string  `json:"transcript"`
}

// TranscriptWebhookPayload is posted once per finished session.
type TranscriptWebhookPayload struct {
	SchemaVersion      string                     `json:"schema_version"`
	SessionID          string                     `json:"session_id"`
	LanguageCode       string                     `json:"language_code"`
	Status             string                     `json:"status"`
	StartAt            string                     `json:"start_at"`
	EndAt              string                     `json:"end_at"`
	DurationSeconds    int64                      `json:"duration_seconds"`
	RestartCount       int                        `json:"restart_count"`
	SegmentCount       int                        `json:"segment_count"`
	TranscriptSegments []TranscriptWebhookSegment `json:"transcript_segments"`
	Transcript         string                     `json:"transcript"`
	Error              string                     `json:"error,omitempty"`
}

type Sender interface {
	SendTranscript(ctx context.Context, payload TranscriptWebhookPayload) error
}
