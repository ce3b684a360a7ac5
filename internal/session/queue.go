package session

import (
	"context"
	"errors"
	"sync"
)

// ErrEndOfStream is returned by Queue.Take once the queue has been closed and drained.
var ErrEndOfStream = errors.New("audio queue: end of stream")

// Queue buffers audio chunks between callers and the ingestion goroutine.
// Push never blocks; Take blocks until a chunk or the end of stream.
type Queue struct {
	mu     sync.Mutex
	items  []AudioChunk
	closed bool
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push appends a chunk. It reports false, and drops the chunk, once the queue is closed.
func (q *Queue) Push(c AudioChunk) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, c)
	q.mu.Unlock()
	q.signal()
	return true
}

func (q *Queue) Take(ctx context.Context) (AudioChunk, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			c := q.items[0]
			q.items[0] = AudioChunk{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return c, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return AudioChunk{}, ErrEndOfStream
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return AudioChunk{}, ctx.Err()
		}
	}
}

// Close installs the end-of-stream marker. Buffered chunks are still returned by Take.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

// Abort discards buffered chunks and ends the stream immediately.
func (q *Queue) Abort() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.signal()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
