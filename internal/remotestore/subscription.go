package remotestore

import (
	"sync"
	"sync/atomic"
)

type event struct {
	doc *Document
	err error
}

// subscription delivers events to one listener in the order they were pushed,
// on its own goroutine, so producers never block on a slow callback.
type subscription struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []event
	closed atomic.Bool

	onSnapshot SnapshotFunc
	onError    ErrorFunc

	closeOnce sync.Once
	done      chan struct{}
}

func newSubscription(onSnapshot SnapshotFunc, onError ErrorFunc) *subscription {
	s := &subscription{
		onSnapshot: onSnapshot,
		onError:    onError,
		done:       make(chan struct{}),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.loop()
	return s
}

func (s *subscription) push(doc *Document) {
	s.enqueue(event{doc: doc})
}

func (s *subscription) fail(err error) {
	s.enqueue(event{err: err})
}

func (s *subscription) enqueue(ev event) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.cond.Signal()
	s.mu.Unlock()
}

func (s *subscription) loop() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed.Load() {
			s.cond.Wait()
		}
		if s.closed.Load() {
			s.mu.Unlock()
			return
		}
		ev := s.queue[0]
		s.queue[0] = event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if s.closed.Load() {
			return
		}
		if ev.err != nil {
			if s.onError != nil {
				s.onError(ev.err)
			}
			continue
		}
		if s.onSnapshot != nil {
			s.onSnapshot(ev.doc)
		}
	}
}

// close drops undelivered events and stops the delivery goroutine.
func (s *subscription) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed.Store(true)
		s.queue = nil
		s.cond.Broadcast()
		s.mu.Unlock()
		close(s.done)
	})
}
