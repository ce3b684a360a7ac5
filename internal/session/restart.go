package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
)

const (
	maxRetryBackoff = 5 * time.Second

	// sendFailureGrace bounds how long a failed Send waits for the reader to
	// report the status that ended the stream.
	sendFailureGrace = time.Second
)

// openLocked opens a new upstream stream carrying the given timeline values
// and makes it the active generation.
func (s *Session) openLocked(restartCount int, bridgingOffsetMs int64) (*generation, error) {
	ctx, cancel := context.WithCancel(s.ctx)
	stream, err := s.transport.Open(ctx, s.streamCfg)
	if err != nil {
		cancel()
		return nil, err
	}
	s.genCounter++
	g := &generation{
		id:               s.genCounter,
		stream:           stream,
		restartCount:     restartCount,
		bridgingOffsetMs: bridgingOffsetMs,
		openedAt:         s.clock.Now(),
		ctx:              ctx,
		cancel:           cancel,
		readerDone:       make(chan struct{}),
		recvEnded:        make(chan struct{}),
	}
	s.gen = g
	go s.runReader(g)
	return g, nil
}

// retireLocked closes and cancels g and waits until its reader has exited,
// so nothing from g can reach the event loop as current afterwards.
func (s *Session) retireLocked(g *generation) {
	if g == nil {
		return
	}
	if err := g.stream.CloseSend(); err != nil {
		s.logger.Debug("half-close of retired stream failed", "error", err, "generation", g.id)
	}
	g.stream.Cancel()
	g.cancel()
	<-g.readerDone
}

// restartLocked replaces the active stream and replays the audio that no
// final result has covered yet.
func (s *Session) restartLocked(reason string) error {
	s.state = StateRestarting
	old := s.gen
	s.retireLocked(old)
	s.gen = nil

	replayStart := s.nextLive
	if len(s.pending) > 0 {
		replayStart = s.pending[0].Offset
	}
	count := s.restartCount + 1
	offset := bridgingOffset(s.opts.StreamingLimit.Milliseconds(), count, replayStart.Milliseconds())

	g, err := s.openLocked(count, offset)
	if err != nil {
		return err
	}
	s.restartCount = count
	s.bridgingOffsetMs = offset
	s.state = StateStreaming
	s.metrics.RestartRecorded(s.ctx, reason)

	oldID := 0
	if old != nil {
		oldID = old.id
	}
	s.logger.Info("upstream stream restarted",
		"reason", reason,
		"previous_generation", oldID,
		"generation", g.id,
		"restart_count", count,
		"bridging_offset_ms", offset,
		"replayed_chunks", len(s.pending))

	for _, c := range s.pending {
		if err := g.stream.Send(c.Data); err != nil {
			return s.sendErrorLocked(g, err)
		}
		s.audioBytes += int64(len(c.Data))
		s.metrics.AudioSent(s.ctx, len(c.Data))
	}
	return nil
}

// sendErrorLocked resolves a Send failure on g. An aborted gRPC stream
// fails Send with io.EOF and reports its real status only through Recv, so
// a fatal status from the reader takes precedence over sendErr.
func (s *Session) sendErrorLocked(g *generation, sendErr error) error {
	if g == nil || transcriber.IsFatal(sendErr) {
		return sendErr
	}
	timer := time.NewTimer(sendFailureGrace)
	defer timer.Stop()
	select {
	case <-g.recvEnded:
		if transcriber.IsFatal(g.err) {
			return g.err
		}
	case <-g.readerDone:
	case <-timer.C:
		s.logger.Debug("upstream status not available after send failure", "error", sendErr, "generation", g.id)
	}
	return sendErr
}

// recoverLocked absorbs transport failures by restarting until the failure
// is fatal or the consecutive transient budget is spent.
func (s *Session) recoverLocked(err error) {
	for err != nil && !s.state.Terminal() {
		if transcriber.IsFatal(err) {
			s.failLocked(err)
			return
		}
		kind := transcriber.KindOf(err)
		if !errors.Is(err, transcriber.ErrStreamExpired) {
			s.transientFailures++
		}
		if s.transientFailures > s.opts.MaxTransientRetries {
			s.failLocked(transcriber.NewError(kind, "restart",
				fmt.Errorf("giving up after %d consecutive failures: %w", s.transientFailures, err)))
			return
		}
		s.metrics.TransportError(s.ctx, kind)
		s.logger.Warn("upstream stream failed; restarting", "error", err, "kind", kind.String(), "attempt", s.transientFailures)
		if s.transientFailures > 0 {
			if werr := s.waitBackoff(s.ctx, s.transientFailures); werr != nil {
				return
			}
		}
		err = s.restartLocked("transport error")
	}
}

// waitBackoff sleeps RetryBackoff doubled per attempt, capped at maxRetryBackoff.
func (s *Session) waitBackoff(ctx context.Context, attempt int) error {
	d := s.opts.RetryBackoff
	for i := 1; i < attempt && d < maxRetryBackoff; i++ {
		d *= 2
	}
	d = min(d, maxRetryBackoff)

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
