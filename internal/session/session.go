package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
)

// Session is one continuous transcription stream. Its upstream connection is
// replaced transparently whenever it nears the streaming limit or fails
// transiently.
type Session struct {
	id        string
	opts      Options
	streamCfg transcriber.StreamConfig
	transport transcriber.Transport
	sink      Sink
	clock     Clock
	metrics   Metrics
	logger    *slog.Logger
	queue     *Queue

	ctx    context.Context
	cancel context.CancelFunc
	events chan event
	done   chan struct{}

	stopOnce sync.Once

	pushMu   sync.Mutex
	nextSeq  uint64
	ingested time.Duration

	mu                sync.Mutex
	state             State
	gen               *generation
	genCounter        int
	restartCount      int
	bridgingOffsetMs  int64
	lastFinalEndMs    int64
	pending           []AudioChunk
	nextLive          time.Duration
	transientFailures int
	halfClosed        bool
	finalCount        int
	audioBytes        int64
	startedAt         time.Time
	endedAt           time.Time
	deliveries        []func()
	terminalSignal    func()

	// deliverMu serializes sink calls made outside mu.
	deliverMu sync.Mutex
}

func newSession(id string, opts Options, transport transcriber.Transport, sink Sink, clock Clock, metrics Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        id,
		opts:      opts,
		streamCfg: opts.streamConfig(),
		transport: transport,
		sink:      sink,
		clock:     clock,
		metrics:   metrics,
		logger:    slog.Default().With("session_id", id),
		queue:     NewQueue(),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
		state:     StateIdle,
	}
}

func (s *Session) ID() string { return s.id }

// Done is closed after the terminal signal has been delivered to the sink.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Stats() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// start opens the first upstream stream and launches the ingestion and
// event loops.
func (s *Session) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	s.startedAt = s.clock.Now()
	for attempt := 0; ; attempt++ {
		_, err := s.openLocked(0, 0)
		if err == nil {
			break
		}
		if !transcriber.IsFatal(err) && attempt < s.opts.MaxTransientRetries {
			s.logger.Warn("failed to open upstream stream; retrying", "error", err, "attempt", attempt+1)
			err = s.waitBackoff(ctx, attempt+1)
		}
		if err != nil {
			s.state = StateErrored
			s.endedAt = s.clock.Now()
			s.queue.Abort()
			s.cancel()
			close(s.done)
			return err
		}
	}

	s.state = StateStreaming
	s.logger.Info("session started", "language", s.opts.LanguageCode, "streaming_limit", s.opts.StreamingLimit)
	s.metrics.SessionStarted(s.ctx)
	if o, ok := s.sink.(StartObserver); ok {
		summary := s.summaryLocked()
		s.deliverLocked(func() { o.OnStart(s.id, summary) })
	}

	go s.ingestLoop()
	go s.eventLoop()
	return nil
}

// Push queues a PCM payload. Pushing to a stopped or failed session is
// reported as a session state error.
func (s *Session) Push(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	d := s.streamCfg.AudioDuration(len(pcm))
	chunk := AudioChunk{
		Seq:        s.nextSeq,
		Data:       append([]byte(nil), pcm...),
		ReceivedAt: s.clock.Now(),
		Offset:     s.ingested,
		Duration:   d,
	}
	if !s.queue.Push(chunk) {
		return transcriber.NewError(transcriber.KindSessionState, "push", errSessionStopped)
	}
	s.nextSeq++
	s.ingested += d
	return nil
}

var errSessionStopped = errors.New("session is stopped")

// Stop requests a graceful shutdown: buffered audio is still sent and the
// upstream is given StopDrainTimeout to flush its last results. It is safe
// to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.queue.Close()
	})
}

func (s *Session) ingestLoop() {
	for {
		chunk, err := s.queue.Take(s.ctx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) {
				s.drain()
			}
			return
		}
		s.sendChunk(chunk)
	}
}

func (s *Session) sendChunk(c AudioChunk) {
	s.mu.Lock()
	defer s.unlock()

	if s.state.Terminal() || s.gen == nil {
		return
	}
	if s.clock.Now().Sub(s.gen.openedAt) >= s.opts.StreamingLimit-s.opts.RestartMargin {
		if err := s.restartLocked("streaming limit"); err != nil {
			s.recoverLocked(err)
		}
		if s.state.Terminal() {
			return
		}
	}

	s.pending = append(s.pending, c)
	s.nextLive = c.End()
	if err := s.gen.stream.Send(c.Data); err != nil {
		s.recoverLocked(s.sendErrorLocked(s.gen, err))
		return
	}
	s.audioBytes += int64(len(c.Data))
	s.metrics.AudioSent(s.ctx, len(c.Data))
}

// drain half-closes the upstream once every buffered chunk has been sent and
// waits for its end of stream.
func (s *Session) drain() {
	s.mu.Lock()
	if !s.state.Terminal() && s.gen != nil {
		if err := s.gen.stream.CloseSend(); err != nil {
			s.logger.Warn("failed to half-close upstream stream", "error", err)
		}
		s.halfClosed = true
	}
	s.unlock()

	timer := time.NewTimer(s.opts.StopDrainTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return
	case <-timer.C:
	}

	s.mu.Lock()
	defer s.unlock()
	if !s.state.Terminal() {
		s.logger.Warn("upstream did not finish before drain timeout", "timeout", s.opts.StopDrainTimeout)
		s.finishLocked(nil)
	}
}

func (s *Session) eventLoop() {
	for {
		select {
		case ev := <-s.events:
			s.handleEvent(ev)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) handleEvent(ev event) {
	s.mu.Lock()
	defer s.unlock()

	if s.state.Terminal() {
		return
	}
	if s.gen == nil || ev.gen != s.gen.id {
		s.logger.Debug("discarding event from superseded stream", "generation", ev.gen)
		return
	}
	if ev.resp != nil {
		s.handleResponseLocked(ev.resp)
		return
	}
	s.handleStreamEndLocked(ev.err)
}

func (s *Session) handleResponseLocked(resp *transcriber.Response) {
	g := s.gen
	limitMs := s.opts.StreamingLimit.Milliseconds()
	for _, r := range resp.Results {
		if err := validateResult(r); err != nil {
			s.logger.Warn("dropping malformed result", "error", err, "generation", g.id)
			s.metrics.TransportError(s.ctx, transcriber.KindProtocol)
			continue
		}
		if !g.sawResult {
			g.sawResult = true
			s.transientFailures = 0
		}

		alt := r.Alternatives[0]
		raw := r.EndOffset.Milliseconds()
		corrected := g.correct(raw, limitMs)
		if !r.IsFinal {
			if s.opts.InterimResults {
				s.deliverLocked(func() { s.sink.OnInterim(s.id, alt.Transcript) })
			}
			continue
		}

		if corrected < s.lastFinalEndMs {
			corrected = s.lastFinalEndMs
		}
		s.lastFinalEndMs = corrected
		s.finalCount++
		s.trimPendingLocked(corrected)
		s.metrics.FinalDelivered(s.ctx)
		result := TranscriptResult{
			Text:                 alt.Transcript,
			IsFinal:              true,
			Confidence:           alt.Confidence,
			RawResultEndTimeMs:   raw,
			CorrectedTimestampMs: corrected,
		}
		s.deliverLocked(func() { s.sink.OnFinal(s.id, result) })
	}
}

// trimPendingLocked forgets chunks whose audio is fully covered by a final result.
func (s *Session) trimPendingLocked(finalEndMs int64) {
	n := 0
	for n < len(s.pending) && s.pending[n].End().Milliseconds() <= finalEndMs {
		n++
	}
	if n == 0 {
		return
	}
	clear(s.pending[:n])
	s.pending = s.pending[n:]
}

func (s *Session) handleStreamEndLocked(err error) {
	if transcriber.IsFatal(err) {
		s.failLocked(err)
		return
	}
	if s.halfClosed {
		if err != nil && !errors.Is(err, io.EOF) {
			s.logger.Warn("upstream ended with error after half-close", "error", err)
		}
		s.finishLocked(nil)
		return
	}
	if errors.Is(err, io.EOF) {
		err = transcriber.NewError(transcriber.KindTransient, "recv", io.ErrUnexpectedEOF)
	}
	s.recoverLocked(err)
}

func (s *Session) failLocked(err error) {
	s.logger.Error("session failed", "error", err, "kind", transcriber.KindOf(err).String(), "restart_count", s.restartCount)
	s.metrics.TransportError(s.ctx, transcriber.KindOf(err))
	s.finishLocked(err)
}

// finishLocked moves the session to its terminal state. The terminal signal
// itself is delivered by unlock, outside the session lock.
func (s *Session) finishLocked(cause error) {
	if s.state.Terminal() {
		return
	}
	if cause != nil {
		s.state = StateErrored
	} else {
		s.state = StateClosed
	}
	s.endedAt = s.clock.Now()
	s.queue.Abort()
	if s.gen != nil {
		s.gen.stream.Cancel()
		s.gen.cancel()
	}
	s.pending = nil

	summary := s.summaryLocked()
	outcome := s.state.String()
	s.terminalSignal = func() {
		s.cancel()
		s.metrics.SessionEnded(context.Background(), outcome)
		if cause != nil {
			s.sink.OnError(s.id, cause)
		} else {
			s.logger.Info("session completed", "restart_count", summary.RestartCount, "finals", summary.FinalCount)
			s.sink.OnComplete(s.id, summary)
		}
		if o, ok := s.sink.(EndObserver); ok {
			o.OnEnd(s.id, summary, cause)
		}
		close(s.done)
	}
}

// deliverLocked queues a sink call; unlock runs it after releasing mu.
func (s *Session) deliverLocked(call func()) {
	s.deliveries = append(s.deliveries, call)
}

// unlock releases the session lock and then runs queued sink calls followed
// by a pending terminal signal. deliverMu is taken before mu is released so
// batches reach the sink in the order they were queued.
func (s *Session) unlock() {
	batch := s.deliveries
	s.deliveries = nil
	signal := s.terminalSignal
	s.terminalSignal = nil
	if len(batch) == 0 && signal == nil {
		s.mu.Unlock()
		return
	}

	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	s.mu.Unlock()
	for _, call := range batch {
		call()
	}
	if signal != nil {
		signal()
	}
}

func (s *Session) summaryLocked() Summary {
	return Summary{
		SessionID:    s.id,
		LanguageCode: s.opts.LanguageCode,
		State:        s.state,
		RestartCount: s.restartCount,
		FinalCount:   s.finalCount,
		AudioBytes:   s.audioBytes,
		StartedAt:    s.startedAt,
		EndedAt:      s.endedAt,
	}
}
