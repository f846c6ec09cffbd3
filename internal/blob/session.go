package blob

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Direction int

const (
	DirectionDownload Direction = iota
	DirectionUpload
)

func (d Direction) String() string {
	if d == DirectionUpload {
		return "upload"
	}
	return "download"
}

// Outcome is how a session, or the latest attempt in one direction, ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFailed
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "none"
	}
}

// Session is the public handle of one in-flight transfer.
type Session struct {
	ID        string
	Direction Direction
	StartedAt time.Time

	done chan struct{}

	mu      sync.Mutex
	stream  Stream
	closed  bool
	stats   Stats
	outcome Outcome
}

func newSession(dir Direction) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Direction: dir,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Stats returns the latest progress report of the session.
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Outcome returns OutcomeNone until the session has terminated.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// attach binds the opened stream to the session. It returns false, closing
// the stream, when the session was cancelled while the stream was opened.
func (s *Session) attach(stream Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		stream.Close()
		return false
	}
	s.stream = stream
	return true
}

func (s *Session) close() {
	s.mu.Lock()
	stream := s.stream
	s.closed = true
	s.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
}

// setPaused pauses or resumes the session's stream. It returns false when
// the session has no stream yet or the stream cannot pause.
func (s *Session) setPaused(paused bool) bool {
	s.mu.Lock()
	p, ok := s.stream.(Pauser)
	closed := s.closed
	s.mu.Unlock()

	if !ok || closed {
		return false
	}
	if paused {
		p.Pause()
	} else {
		p.Resume()
	}
	return true
}

func (s *Session) setStats(st Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = st
}

func (s *Session) finish(o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != OutcomeNone {
		return
	}
	s.outcome = o
	close(s.done)
}
