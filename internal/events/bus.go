package events

import (
	"sync"

	"github.com/grabd/grabd/internal/domain"
)

const defaultBufferSize = 64

// Bus fans job events out to any number of subscribers. Publishing never
// blocks: each subscriber owns a bounded queue drained by its own pump
// goroutine. When a queue is full, progress events are coalesced per job
// (newest wins) and the subscriber sees Dropped=true on the next delivery.
// Transition events are never coalesced or reordered within a job.
type Bus struct {
	mu      sync.Mutex
	subs    map[*Subscriber]struct{}
	bufSize int
	closed  bool
}

func NewBus() *Bus {
	return &Bus{
		subs:    make(map[*Subscriber]struct{}),
		bufSize: defaultBufferSize,
	}
}

// NewBusWithBuffer is used by tests that need a tiny buffer.
func NewBusWithBuffer(size int) *Bus {
	b := NewBus()
	if size > 0 {
		b.bufSize = size
	}
	return b
}

func (b *Bus) Subscribe() *Subscriber {
	s := &Subscriber{
		out:  make(chan domain.Event),
		wake: make(chan struct{}, 1),
		die:  make(chan struct{}),
		max:  b.bufSize,
	}
	go s.pump()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.Close()
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
	s.Close()
}

func (b *Bus) Publish(ev domain.Event) {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.enqueue(ev)
	}
}

// Close tears down every subscriber. Pending events are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	subs := make([]*Subscriber, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.subs = make(map[*Subscriber]struct{})
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// Subscriber is one observer's view of the bus. Consume from Events();
// call Close (or Bus.Unsubscribe) when done.
type Subscriber struct {
	mu      sync.Mutex
	queue   []domain.Event
	dropped bool
	closed  bool
	max     int

	out  chan domain.Event
	wake chan struct{}
	die  chan struct{}
}

// Events yields the delivered events. The channel closes after Close.
func (s *Subscriber) Events() <-chan domain.Event {
	return s.out
}

func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	close(s.die)
	s.notify()
}

func (s *Subscriber) enqueue(ev domain.Event) {
	s.mu.Lock()
	defer func() {
		s.mu.Unlock()
		s.notify()
	}()

	if s.closed {
		return
	}

	if len(s.queue) < s.max {
		s.queue = append(s.queue, ev)
		return
	}

	// Queue is full. Make room by coalescing progress events; transitions
	// are appended regardless so none is ever lost.
	if ev.Kind == domain.EventProgress {
		for i := len(s.queue) - 1; i >= 0; i-- {
			if s.queue[i].Kind == domain.EventProgress && s.queue[i].JobID == ev.JobID {
				s.queue[i] = ev
				s.dropped = true
				return
			}
		}
		// No older sample to replace: drop this one.
		s.dropped = true
		return
	}

	if i := s.oldestProgress(); i >= 0 {
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		s.dropped = true
	}
	s.queue = append(s.queue, ev)
}

func (s *Subscriber) oldestProgress() int {
	for i, ev := range s.queue {
		if ev.Kind == domain.EventProgress {
			return i
		}
	}
	return -1
}

func (s *Subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) pump() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				close(s.out)
				return
			}
			<-s.wake
			continue
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		if s.dropped {
			ev.Dropped = true
			s.dropped = false
		}
		s.mu.Unlock()

		// A consumer that stopped reading must not strand the pump.
		select {
		case s.out <- ev:
		case <-s.die:
			close(s.out)
			return
		}
	}
}
