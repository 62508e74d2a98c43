package auth

import (
	"context"
	"strings"
	"sync"

	"vtoframes/internal/vto"
)

// User identifies the signed-in shopper. UID is also the profile document id.
type User struct {
	UID   string
	Email string
}

// Client is what the core needs from authentication: who is signed in, and a
// bearer token for the render service.
type Client interface {
	CurrentUser() (User, bool)
	IDToken(ctx context.Context) (string, error)
}

// Static holds a user and token handed over by someone else, for example a
// gateway that already verified the caller's ID token.
type Static struct {
	mu    sync.RWMutex
	user  User
	token string
}

func NewStatic(user User, token string) *Static {
	return &Static{user: user, token: strings.TrimSpace(token)}
}

func (s *Static) CurrentUser() (User, bool) {
	if s == nil {
		return User{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if strings.TrimSpace(s.user.UID) == "" {
		return User{}, false
	}
	return s.user, true
}

func (s *Static) IDToken(_ context.Context) (string, error) {
	if s == nil {
		return "", vto.NotLoggedIn()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if strings.TrimSpace(s.user.UID) == "" || s.token == "" {
		return "", vto.NotLoggedIn()
	}
	return s.token, nil
}

// SetToken swaps in a refreshed token for the same user.
func (s *Static) SetToken(token string) {
	s.mu.Lock()
	s.token = strings.TrimSpace(token)
	s.mu.Unlock()
}

func (s *Static) SignOut() {
	s.mu.Lock()
	s.user = User{}
	s.token = ""
	s.mu.Unlock()
}
