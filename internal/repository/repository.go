package repository

import (
	"context"
	"time"
)

type CreateSessionInput struct {
	SessionKey   string
	LanguageCode string
	StartedAt    time.Time
}

type FinishSessionInput struct {
	ID           string
	EndedAt      time.Time
	Status       SessionStatus
	RestartCount int
	FinalCount   int
	AudioBytes   int64
	ErrorKind    string
	ErrorMessage string
}

type InsertSegmentInput struct {
	SessionID    string
	Content      string
	SegmentIndex int
	Confidence   float64
	OffsetMs     int64
}

type SessionRepository interface {
	CreateSession(ctx context.Context, input CreateSessionInput) (*Session, error)
	FinishSession(ctx context.Context, input FinishSessionInput) error
	// MarkRunningInterrupted closes rows left running by a previous process.
	MarkRunningInterrupted(ctx context.Context, endedAt time.Time) (int64, error)
}

type TranscriptRepository interface {
	InsertSegment(ctx context.Context, input InsertSegmentInput) error
	ListSegmentsBySessionID(ctx context.Context, sessionID string) ([]TranscriptSegment, error)
}

type Repository interface {
	SessionRepository
	TranscriptRepository
	Ping(ctx context.Context) error
}
