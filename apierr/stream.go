package apierr

import "sync"

// subscriberBuffer is the per-subscriber channel capacity. Publishing
// never blocks; records beyond the buffer are dropped for that
// subscriber.
const subscriberBuffer = 16

// Stream fans classified records out to subscribers.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: Publish is best-effort and never blocks the pipeline.
type Stream struct {
	mu     sync.Mutex
	subs   map[int]chan *Error
	nextID int
	closed bool
}

// NewStream creates an empty stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan *Error)}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes its channel; it is idempotent.
func (s *Stream) Subscribe() (<-chan *Error, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan *Error, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the record to all subscribers. Silent records are
// constructed but never broadcast.
func (s *Stream) Publish(e *Error) {
	if e == nil || e.Silent {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
			// Subscriber is not keeping up; drop.
		}
	}
}

// Close closes all subscriber channels and rejects future publishes.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
