package session

import "github.com/foxseedlab/streamkoshin/internal/transcriber"

// event is a message from a reader goroutine to the session's event loop.
// Exactly one of resp and err is set; err is io.EOF on a clean upstream end.
type event struct {
	gen  int
	resp *transcriber.Response
	err  error
}

// runReader forwards everything received on g's stream to the event loop
// until the stream ends or g is retired.
func (s *Session) runReader(g *generation) {
	defer close(g.readerDone)
	for {
		resp, err := g.stream.Recv()
		if err != nil {
			g.err = err
			close(g.recvEnded)
			s.emit(g, event{gen: g.id, err: err})
			return
		}
		if resp == nil {
			continue
		}
		if !s.emit(g, event{gen: g.id, resp: resp}) {
			return
		}
	}
}

func (s *Session) emit(g *generation, ev event) bool {
	select {
	case s.events <- ev:
		return true
	case <-g.ctx.Done():
		return false
	}
}
