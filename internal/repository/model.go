package repository

import "time"

type SessionStatus string

const (
	SessionStatusRunning     SessionStatus = "running"
	SessionStatusCompleted   SessionStatus = "completed"
	SessionStatusFailed      SessionStatus = "failed"
	SessionStatusInterrupted SessionStatus = "interrupted"
)

// Session is one persisted run of a transcription session. SessionKey is the
// caller-facing session id; ID is unique per run.
type Session struct {
	ID           string
	SessionKey   string
	LanguageCode string
	StartedAt    time.Time
	EndedAt      *time.Time
	Status       SessionStatus
	RestartCount int
	FinalCount   int
	AudioBytes   int64
	ErrorKind    string
	ErrorMessage string
}

type TranscriptSegment struct {
	ID           string
	SessionID    string
	Content      string
	SegmentIndex int
	Confidence   float64
	OffsetMs     int64
	CreatedAt    time.Time
}
