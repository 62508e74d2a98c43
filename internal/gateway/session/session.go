package session

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vtoframes/internal/auth"
	"vtoframes/internal/frames"
)

// Factory builds the orchestrator for one shopper. onWarm must be installed
// as the orchestrator's warm hook.
type Factory func(user auth.Client, onWarm func(frames.WarmResult)) (*frames.Orchestrator, error)

// Session is one shopper's view of the core: their credentials and their
// frame cache.
type Session struct {
	User   auth.User
	auth   *auth.Static
	Frames *frames.Orchestrator
	feed   *warmFeed

	mu      sync.Mutex
	holders int
	evicted bool
}

// WatchWarm streams the session's background warm results until stop is
// called.
func (s *Session) WatchWarm() (results <-chan frames.WarmResult, stop func()) {
	return s.feed.subscribe()
}

// retire runs when the session leaves the cache. The orchestrator is closed
// once the last holder lets go.
func (s *Session) retire() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = true
	if s.holders == 0 {
		// Close waits for in-flight work; never block the cache.
		go s.Frames.Close()
	}
}

// hold pins the session against closing. It fails when the session has
// already been retired.
func (s *Session) hold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.evicted {
		return false
	}
	s.holders++
	return true
}

func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holders--
	if s.holders == 0 && s.evicted {
		go s.Frames.Close()
	}
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// Manager keeps one Session per user id and closes sessions that sit idle
// longer than TTL or fall out of the size bound.
type Manager struct {
	mu       sync.Mutex
	sessions *expirable.LRU[string, *Session]
	factory  Factory
}

func NewManager(cfg Config, factory Factory) (*Manager, error) {
	if factory == nil {
		return nil, fmt.Errorf("session factory is required")
	}
	size := cfg.MaxEntries
	if size <= 0 {
		size = 10000
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	m := &Manager{factory: factory}
	m.sessions = expirable.NewLRU[string, *Session](size, func(uid string, s *Session) {
		log.Printf("session: closing session for %s", uid)
		s.retire()
	}, ttl)
	return m, nil
}

// Acquire returns the user's session, creating it on first use. The token
// replaces the one held by an existing session and renews its idle timer.
func (m *Manager) Acquire(user auth.User, token string) (*Session, error) {
	uid := strings.TrimSpace(user.UID)
	if uid == "" {
		return nil, fmt.Errorf("user id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions.Get(uid); ok {
		s.auth.SetToken(token)
		m.sessions.Add(uid, s)
		return s, nil
	}
	// An expired entry may still be held until the next cleanup tick;
	// removing it runs the close callback.
	m.sessions.Remove(uid)

	client := auth.NewStatic(user, token)
	feed := newWarmFeed()
	orch, err := m.factory(client, feed.publish)
	if err != nil {
		return nil, fmt.Errorf("create session for %s: %w", uid, err)
	}
	s := &Session{User: user, auth: client, Frames: orch, feed: feed}
	m.sessions.Add(uid, s)
	return s, nil
}

// Hold acquires the user's session and pins it open until release is called,
// even if it idles out or is pushed out of the cache meanwhile. Long-lived
// callers such as websocket connections use it instead of Acquire.
func (m *Manager) Hold(user auth.User, token string) (*Session, func(), error) {
	for {
		s, err := m.Acquire(user, token)
		if err != nil {
			return nil, nil, err
		}
		if s.hold() {
			var once sync.Once
			return s, func() { once.Do(s.release) }, nil
		}
		// Retired between lookup and hold; the cache no longer has it.
	}
}

func (m *Manager) Len() int { return m.sessions.Len() }

// Close closes every cached session, held or not.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions.Values() {
		s.Frames.Close()
	}
	m.sessions.Purge()
}
