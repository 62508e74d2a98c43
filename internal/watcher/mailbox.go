package watcher

import (
	"sync"

	"vtoframes/internal/remotestore"
)

type delivery struct {
	doc *remotestore.Document
	err error
}

// mailbox hands store callbacks over to the awaiting goroutine without ever
// blocking the store. Deliveries after close are dropped.
type mailbox struct {
	mu     sync.Mutex
	queue  []delivery
	closed bool
	ready  chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{ready: make(chan struct{}, 1)}
}

func (m *mailbox) snapshot(doc *remotestore.Document) { m.put(delivery{doc: doc}) }

func (m *mailbox) fail(err error) { m.put(delivery{err: err}) }

func (m *mailbox) put(d delivery) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.queue = append(m.queue, d)
	m.mu.Unlock()
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// drain returns everything delivered so far, oldest first.
func (m *mailbox) drain() []delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.queue
	m.queue = nil
	return out
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.queue = nil
	m.mu.Unlock()
}
