// Package session keeps per-browser state: the OIDC user and the
// credentials entered for each backend.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found")

// Backend names under which credentials are kept.
const (
	BackendRDM    = "rdm"
	BackendStager = "stager"
)

// Credential is a username/password pair for a backend service.
type Credential struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// String hides the password so a credential never reaches a log verbatim.
func (c Credential) String() string {
	return c.Username + ":***"
}

// User is the identity established through OIDC.
type User struct {
	Username    string        `json:"username"`
	DisplayName string        `json:"displayName"`
	Email       string        `json:"email,omitempty"`
	IDToken     string        `json:"idToken,omitempty"`
	Token       *oauth2.Token `json:"token,omitempty"`
}

// Session is the server-side state behind a session cookie.
type Session struct {
	ID          string                `json:"id"`
	User        *User                 `json:"user,omitempty"`
	Credentials map[string]Credential `json:"credentials,omitempty"`
	OAuthState  string                `json:"oauthState,omitempty"`
	ReturnTo    string                `json:"returnTo,omitempty"`
	ExpiresAt   time.Time             `json:"expiresAt"`

	destroyed bool
	// snapshot is the stored state as loaded, without expiry; nil for
	// sessions not loaded from the store.
	snapshot []byte
}

// Credential returns the stored credential for backend.
func (s *Session) Credential(backend string) (Credential, bool) {
	c, ok := s.Credentials[backend]
	return c, ok
}

// SetCredential stores a credential for backend.
func (s *Session) SetCredential(backend string, c Credential) {
	if s.Credentials == nil {
		s.Credentials = make(map[string]Credential)
	}
	s.Credentials[backend] = c
}

// ClearCredential removes the credential for backend.
func (s *Session) ClearCredential(backend string) {
	delete(s.Credentials, backend)
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Store persists sessions.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
	// Touch extends the expiry of a stored session without rewriting it.
	// It returns ErrNotFound when the session is gone.
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// Sweep removes sessions expired at now and returns how many.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Count(ctx context.Context) (int, error)
}

func encode(s *Session) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// fingerprint encodes s without its expiry, to tell whether a request
// changed anything besides the rolling expiry.
func fingerprint(s *Session) []byte {
	c := *s
	c.ExpiresAt = time.Time{}
	data, err := json.Marshal(&c)
	if err != nil {
		return nil
	}
	return data
}

func decode(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
