package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"vtoframes/internal/vto"
)

const (
	defaultIdentityURL    = "https://identitytoolkit.googleapis.com"
	defaultSecureTokenURL = "https://securetoken.googleapis.com"
	refreshSkew           = time.Minute
)

type FirebaseConfig struct {
	APIKey         string
	IdentityURL    string
	SecureTokenURL string
	HTTPClient     *http.Client
}

// Firebase signs a shopper in through the Identity Toolkit REST API and keeps
// the ID token fresh.
type Firebase struct {
	apiKey      string
	identityURL string
	tokenURL    string
	http        *http.Client
	now         func() time.Time

	mu           sync.Mutex
	user         *User
	idToken      string
	refreshToken string
	expiresAt    time.Time
}

func NewFirebase(cfg FirebaseConfig) (*Firebase, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("firebase api key is required")
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Firebase{
		apiKey:      apiKey,
		identityURL: strings.TrimRight(firstNonEmpty(cfg.IdentityURL, defaultIdentityURL), "/"),
		tokenURL:    strings.TrimRight(firstNonEmpty(cfg.SecureTokenURL, defaultSecureTokenURL), "/"),
		http:        hc,
		now:         time.Now,
	}, nil
}

type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type refreshResponse struct {
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    string `json:"expires_in"`
	UserID       string `json:"user_id"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (f *Firebase) SignIn(ctx context.Context, email, password string) (User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return User{}, fmt.Errorf("email and password are required")
	}
	var out signInResponse
	err := f.postJSON(ctx, f.identityURL+"/v1/accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &out)
	if err != nil {
		return User{}, fmt.Errorf("sign in: %w", err)
	}
	user := User{UID: out.LocalID, Email: firstNonEmpty(out.Email, email)}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.user = &user
	f.idToken = out.IDToken
	f.refreshToken = out.RefreshToken
	f.expiresAt = f.now().Add(parseExpiresIn(out.ExpiresIn))
	return user, nil
}

func (f *Firebase) SignOut() {
	f.mu.Lock()
	f.user = nil
	f.idToken = ""
	f.refreshToken = ""
	f.expiresAt = time.Time{}
	f.mu.Unlock()
}

func (f *Firebase) SendPasswordReset(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	err := f.postJSON(ctx, f.identityURL+"/v1/accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
	if err != nil {
		return fmt.Errorf("send password reset: %w", err)
	}
	return nil
}

func (f *Firebase) ConfirmPasswordReset(ctx context.Context, code, newPassword string) error {
	code = strings.TrimSpace(code)
	if code == "" || newPassword == "" {
		return fmt.Errorf("reset code and new password are required")
	}
	err := f.postJSON(ctx, f.identityURL+"/v1/accounts:resetPassword", map[string]any{
		"oobCode":     code,
		"newPassword": newPassword,
	}, nil)
	if err != nil {
		return fmt.Errorf("confirm password reset: %w", err)
	}
	return nil
}

func (f *Firebase) CurrentUser() (User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return User{}, false
	}
	return *f.user, true
}

// IDToken returns the cached token, refreshing it shortly before expiry.
func (f *Firebase) IDToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return "", vto.NotLoggedIn()
	}
	if f.idToken != "" && f.now().Add(refreshSkew).Before(f.expiresAt) {
		return f.idToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", f.refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.tokenURL+"/v1/token?key="+url.QueryEscape(f.apiKey), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	var out refreshResponse
	if err := f.do(req, &out); err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	f.idToken = out.IDToken
	if out.RefreshToken != "" {
		f.refreshToken = out.RefreshToken
	}
	f.expiresAt = f.now().Add(parseExpiresIn(out.ExpiresIn))
	return f.idToken, nil
}

func (f *Firebase) postJSON(ctx context.Context, endpoint string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"?key="+url.QueryEscape(f.apiKey), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return f.do(req, out)
}

func (f *Firebase) do(req *http.Request, out any) error {
	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s (status %d)", apiErr.Error.Message, resp.StatusCode)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func parseExpiresIn(raw string) time.Duration {
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs <= 0 {
		return time.Hour
	}
	return time.Duration(secs) * time.Second
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
