package session

import (
	"sync"
	"sync/atomic"

	"vtoframes/internal/frames"
)

const feedBuffer = 16

// warmFeed fans background warm results out to live listeners. A listener
// that falls behind loses results instead of slowing the warm-up.
type warmFeed struct {
	mu        sync.Mutex
	listeners map[chan frames.WarmResult]struct{}
	dropped   atomic.Uint64
}

func newWarmFeed() *warmFeed {
	return &warmFeed{listeners: make(map[chan frames.WarmResult]struct{})}
}

func (f *warmFeed) publish(r frames.WarmResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.listeners {
		select {
		case ch <- r:
		default:
			f.dropped.Add(1)
		}
	}
}

func (f *warmFeed) subscribe() (<-chan frames.WarmResult, func()) {
	ch := make(chan frames.WarmResult, feedBuffer)
	f.mu.Lock()
	f.listeners[ch] = struct{}{}
	f.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.listeners, ch)
			f.mu.Unlock()
		})
	}
}
