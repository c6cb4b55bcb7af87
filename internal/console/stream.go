package console

import (
	"sync"
	"time"
)

// Stream is the output of one process run: a bounded backlog plus live fan-out.
// Once closed it never reopens; a new run gets a new Stream.
type Stream struct {
	sessionID string
	mu        sync.Mutex
	backlog   *RingBuffer[Line]
	fanout    *Broadcaster[Line]
	seq       uint64
}

// NewStream creates the stream for one run.
func NewStream(sessionID string, backlogLines, subscriberBuffer int) *Stream {
	return &Stream{
		sessionID: sessionID,
		backlog:   NewRingBuffer[Line](backlogLines),
		fanout:    NewBroadcaster[Line](subscriberBuffer),
	}
}

// SessionID identifies the run this stream belongs to.
func (s *Stream) SessionID() string {
	return s.sessionID
}

// Append records a line and publishes it. Lines appended after Close are dropped.
func (s *Stream) Append(text string) (Line, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fanout.Stopped() {
		return Line{}, false
	}

	s.seq++
	line := Line{
		SessionID: s.sessionID,
		Seq:       s.seq,
		Text:      SanitizeLine(text),
		Time:      time.Now(),
	}
	s.backlog.Add(line)
	s.fanout.Publish(line)
	return line, true
}

// Subscribe returns the backlog followed by live lines. On a closed stream the
// channel holds the backlog and is already closed.
func (s *Stream) Subscribe() (<-chan Line, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.backlog.Items()
	ch, cancel, err := s.fanout.SubscribeWith(history)
	if err != nil {
		done := make(chan Line, len(history))
		for _, line := range history {
			done <- line
		}
		close(done)
		return done, func() {}
	}
	return ch, cancel
}

// Backlog returns the newest n buffered lines (all when n <= 0).
func (s *Stream) Backlog(n int) []Line {
	if n <= 0 {
		return s.backlog.Items()
	}
	return s.backlog.Last(n)
}

// Close ends the stream for every subscriber.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fanout.Stop()
}

// Closed reports whether Close was called.
func (s *Stream) Closed() bool {
	return s.fanout.Stopped()
}
