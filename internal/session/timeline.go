package session

import (
	"context"
	"fmt"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
)

// CorrectTimestamp maps a result end time reported by one upstream stream
// onto the session's continuous timeline.
func CorrectTimestamp(rawEndMs, bridgingOffsetMs, streamingLimitMs int64, restartCount int) int64 {
	return rawEndMs - bridgingOffsetMs + streamingLimitMs*int64(restartCount)
}

// bridgingOffset is chosen so that a stream which starts receiving audio at
// replayStartMs reports corrected times equal to replayStartMs + raw.
func bridgingOffset(streamingLimitMs int64, restartCount int, replayStartMs int64) int64 {
	return streamingLimitMs*int64(restartCount) - replayStartMs
}

// generation is one upstream stream together with the timeline values in
// force when it was opened.
type generation struct {
	id               int
	stream           transcriber.Stream
	restartCount     int
	bridgingOffsetMs int64
	openedAt         time.Time
	sawResult        bool

	ctx        context.Context
	cancel     context.CancelFunc
	readerDone chan struct{}

	// err is the error that ended Recv; it is readable once recvEnded is closed.
	err       error
	recvEnded chan struct{}
}

func (g *generation) correct(rawEndMs, streamingLimitMs int64) int64 {
	return CorrectTimestamp(rawEndMs, g.bridgingOffsetMs, streamingLimitMs, g.restartCount)
}

func validateResult(r transcriber.Result) error {
	if len(r.Alternatives) == 0 {
		return transcriber.NewError(transcriber.KindProtocol, "result", fmt.Errorf("no alternatives"))
	}
	if c := r.Alternatives[0].Confidence; c < 0 || c > 1 {
		return transcriber.NewError(transcriber.KindProtocol, "result", fmt.Errorf("confidence %v out of range", c))
	}
	if r.EndOffset < 0 {
		return transcriber.NewError(transcriber.KindProtocol, "result", fmt.Errorf("negative end offset %v", r.EndOffset))
	}
	return nil
}
