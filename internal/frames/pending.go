package frames

import (
	"context"
	"sync"
	"time"

	"vtoframes/internal/vto"
)

// pendingFetch is the one in-flight fetch-or-render for a cache key. Every
// caller asking for the key while it runs waits on done.
type pendingFetch struct {
	key       string
	createdAt time.Time
	done      chan struct{}
	cancel    context.CancelFunc

	// guarded by Orchestrator.mu
	waiters int
	frames  vto.FrameSet
	err     error

	closeOnce sync.Once
}

func newPendingFetch(key string, cancel context.CancelFunc, now time.Time) *pendingFetch {
	return &pendingFetch{
		key:       key,
		createdAt: now,
		done:      make(chan struct{}),
		cancel:    cancel,
		waiters:   1,
	}
}

func (p *pendingFetch) settle(frames vto.FrameSet, err error) {
	p.closeOnce.Do(func() {
		p.frames, p.err = frames, err
		close(p.done)
	})
}

func (p *pendingFetch) settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *pendingFetch) result() (vto.FrameSet, error) {
	if p.err != nil {
		return vto.FrameSet{}, p.err
	}
	return p.frames.Clone(), nil
}

// PendingView describes an in-flight fetch.
type PendingView struct {
	Key       string
	CreatedAt time.Time
	Waiters   int
}
