package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

var ErrInvalidToken = errors.New("invalid id token")

// Verifier turns a bearer token presented by a caller into a User.
type Verifier interface {
	Verify(ctx context.Context, idToken string) (User, error)
}

// FirebaseVerifier checks Firebase ID tokens with the Admin SDK.
type FirebaseVerifier struct {
	client *fbauth.Client
}

func NewFirebaseVerifier(ctx context.Context, projectID, credentialsFile string) (*FirebaseVerifier, error) {
	var opts []option.ClientOption
	if f := strings.TrimSpace(credentialsFile); f != "" {
		opts = append(opts, option.WithCredentialsFile(f))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: strings.TrimSpace(projectID)}, opts...)
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase auth: %w", err)
	}
	return &FirebaseVerifier{client: client}, nil
}

func (v *FirebaseVerifier) Verify(ctx context.Context, idToken string) (User, error) {
	tok, err := v.client.VerifyIDToken(ctx, strings.TrimSpace(idToken))
	if err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	email, _ := tok.Claims["email"].(string)
	return User{UID: tok.UID, Email: email}, nil
}

// DevVerifier accepts "dev:<uid>" tokens. Local environments only.
type DevVerifier struct{}

func (DevVerifier) Verify(_ context.Context, idToken string) (User, error) {
	uid, ok := strings.CutPrefix(strings.TrimSpace(idToken), "dev:")
	uid = strings.TrimSpace(uid)
	if !ok || uid == "" {
		return User{}, ErrInvalidToken
	}
	return User{UID: uid}, nil
}
