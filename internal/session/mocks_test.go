package session

import (
	"context"
	"encoding/binary"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/streamkoshin/internal/transcriber"
)

// 100ms of 16 kHz mono LINEAR16.
const testChunkBytes = 3200

func testChunk(seq int) []byte {
	b := make([]byte, testChunkBytes)
	binary.BigEndian.PutUint32(b, uint32(seq))
	return b
}

type sendRecord struct {
	stream int
	seq    int
}

type recvItem struct {
	resp *transcriber.Response
	err  error
}

type mockTransport struct {
	mu              sync.Mutex
	streams         []*mockStream
	attempts        int
	openErrs        map[int]error
	ignoreHalfClose bool
	sends           chan sendRecord
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		openErrs: make(map[int]error),
		sends:    make(chan sendRecord, 4096),
	}
}

func (m *mockTransport) Open(_ context.Context, _ transcriber.StreamConfig) (transcriber.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if err := m.openErrs[m.attempts]; err != nil {
		return nil, err
	}
	s := &mockStream{
		id:              len(m.streams) + 1,
		transport:       m,
		ignoreHalfClose: m.ignoreHalfClose,
		recv:            make(chan recvItem, 16),
		halfCh:          make(chan struct{}),
		cancelCh:        make(chan struct{}),
	}
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *mockTransport) streamCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

func (m *mockTransport) stream(i int) *mockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streams[i-1]
}

// waitSeq consumes send records until chunk seq has been observed and
// returns everything consumed.
func (m *mockTransport) waitSeq(t *testing.T, seq int) []sendRecord {
	t.Helper()
	var got []sendRecord
	timeout := time.After(2 * time.Second)
	for {
		select {
		case rec := <-m.sends:
			got = append(got, rec)
			if rec.seq == seq {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for chunk %d; consumed %v", seq, got)
		}
	}
}

type mockStream struct {
	id              int
	transport       *mockTransport
	ignoreHalfClose bool

	mu         sync.Mutex
	sent       [][]byte
	halfClosed bool
	cancelled  bool
	sendErr    error

	recv       chan recvItem
	halfCh     chan struct{}
	cancelCh   chan struct{}
	halfOnce   sync.Once
	cancelOnce sync.Once
}

func (s *mockStream) Send(pcm []byte) error {
	s.mu.Lock()
	if s.cancelled || s.halfClosed {
		s.mu.Unlock()
		return transcriber.NewError(transcriber.KindSessionState, "send", io.ErrClosedPipe)
	}
	if s.sendErr != nil {
		err := s.sendErr
		s.mu.Unlock()
		return err
	}
	s.sent = append(s.sent, pcm)
	s.mu.Unlock()
	s.transport.sends <- sendRecord{stream: s.id, seq: int(binary.BigEndian.Uint32(pcm))}
	return nil
}

func (s *mockStream) CloseSend() error {
	s.mu.Lock()
	s.halfClosed = true
	s.mu.Unlock()
	s.halfOnce.Do(func() { close(s.halfCh) })
	return nil
}

func (s *mockStream) Cancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancelOnce.Do(func() { close(s.cancelCh) })
}

func (s *mockStream) Recv() (*transcriber.Response, error) {
	select {
	case it := <-s.recv:
		return it.resp, it.err
	default:
	}
	halfCh := s.halfCh
	if s.ignoreHalfClose {
		halfCh = nil
	}
	select {
	case it := <-s.recv:
		return it.resp, it.err
	case <-s.cancelCh:
		return nil, transcriber.NewError(transcriber.KindSessionState, "recv", context.Canceled)
	case <-halfCh:
		select {
		case it := <-s.recv:
			return it.resp, it.err
		default:
			return nil, io.EOF
		}
	}
}

// failSends makes every later Send fail with err.
func (s *mockStream) failSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

func (s *mockStream) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func (s *mockStream) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *mockStream) respond(results ...transcriber.Result) {
	s.recv <- recvItem{resp: &transcriber.Response{Results: results}}
}

func (s *mockStream) fail(err error) {
	s.recv <- recvItem{err: err}
}

func finalResult(text string, endMs int64) transcriber.Result {
	return transcriber.Result{
		Alternatives: []transcriber.Alternative{{Transcript: text, Confidence: 0.9}},
		IsFinal:      true,
		EndOffset:    time.Duration(endMs) * time.Millisecond,
	}
}

func interimResult(text string, endMs int64) transcriber.Result {
	r := finalResult(text, endMs)
	r.IsFinal = false
	return r
}

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func newMockClock() *mockClock {
	return &mockClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingSink struct {
	mu        sync.Mutex
	starts    int
	ends      []Summary
	interims  []string
	finals    []TranscriptResult
	errs      []error
	completes []Summary

	finalCh    chan TranscriptResult
	terminalCh chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		finalCh:    make(chan TranscriptResult, 64),
		terminalCh: make(chan struct{}, 4),
	}
}

func (r *recordingSink) OnStart(_ string, _ Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
}

func (r *recordingSink) OnEnd(_ string, summary Summary, _ error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, summary)
}

func (r *recordingSink) OnInterim(_ string, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interims = append(r.interims, text)
}

func (r *recordingSink) OnFinal(_ string, result TranscriptResult) {
	r.mu.Lock()
	r.finals = append(r.finals, result)
	r.mu.Unlock()
	r.finalCh <- result
}

func (r *recordingSink) OnError(_ string, err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
	r.terminalCh <- struct{}{}
}

func (r *recordingSink) OnComplete(_ string, summary Summary) {
	r.mu.Lock()
	r.completes = append(r.completes, summary)
	r.mu.Unlock()
	r.terminalCh <- struct{}{}
}

func (r *recordingSink) waitFinal(t *testing.T) TranscriptResult {
	t.Helper()
	select {
	case res := <-r.finalCh:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for final result")
		return TranscriptResult{}
	}
}

func (r *recordingSink) waitTerminal(t *testing.T) {
	t.Helper()
	select {
	case <-r.terminalCh:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for terminal signal")
	}
}

func (r *recordingSink) counts() (finals, errs, completes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.finals), len(r.errs), len(r.completes)
}

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

func testOptions() Options {
	return Options{
		LanguageCode:        "en-US",
		StreamingLimit:      5000 * time.Millisecond,
		RestartMargin:       500 * time.Millisecond,
		MaxTransientRetries: 3,
		StopDrainTimeout:    time.Second,
		RetryBackoff:        time.Millisecond,
		InterimResults:      true,
		SampleRateHertz:     16000,
		AudioChannelCount:   1,
	}
}

type testEnv struct {
	transport *mockTransport
	clock     *mockClock
	sink      *recordingSink
	manager   *Manager
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		transport: newMockTransport(),
		clock:     newMockClock(),
		sink:      newRecordingSink(),
	}
	env.manager = NewManager(env.transport, opts, WithClock(env.clock))
	return env
}

func (e *testEnv) start(t *testing.T, id string) *Session {
	t.Helper()
	s, err := e.manager.Start(context.Background(), StartRequest{SessionID: id, Sink: e.sink})
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	return s
}

// pushAt sets the clock to at, pushes chunk seq and waits until the
// transport has received it.
func (e *testEnv) pushAt(t *testing.T, id string, seq int, at time.Duration, base time.Time) []sendRecord {
	t.Helper()
	e.clock.Set(base.Add(at))
	if err := e.manager.PushAudio(context.Background(), id, testChunk(seq)); err != nil {
		t.Fatalf("unexpected push error for chunk %d: %v", seq, err)
	}
	return e.transport.waitSeq(t, seq)
}
