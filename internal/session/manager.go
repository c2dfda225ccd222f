package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/metrics"
)

// CookieName is the name of the session cookie.
const CookieName = "stager-ui.sid"

const issuer = "stager-ui"

type contextKey struct{}

// Manager issues session cookies and loads their sessions from a Store.
//
// The cookie carries a signed token naming the session id, never the
// session data itself.
type Manager struct {
	store  Store
	key    []byte
	maxAge time.Duration
	secure bool
}

// NewManager creates a manager signing cookies with secret. secure marks
// cookies for HTTPS only.
func NewManager(store Store, secret string, maxAge time.Duration, secure bool) *Manager {
	return &Manager{
		store:  store,
		key:    []byte(secret),
		maxAge: maxAge,
		secure: secure,
	}
}

// Store returns the underlying session store.
func (m *Manager) Store() Store {
	return m.store
}

// Load returns the session named by the request cookie, or a fresh one if
// the cookie is missing, invalid, or its session is gone.
func (m *Manager) Load(r *http.Request) *Session {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return m.newSession()
	}

	id, err := m.parse(c.Value)
	if err != nil {
		logging.WithContext(r.Context()).Debug("invalid session cookie", zap.Error(err))
		return m.newSession()
	}

	s, err := m.store.Get(r.Context(), id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logging.WithContext(r.Context()).Warn("load session failed", zap.Error(err))
		}
		return m.newSession()
	}
	s.snapshot = fingerprint(s)
	return s
}

// Save persists s.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	if s.destroyed {
		return nil
	}
	return m.store.Put(ctx, s)
}

// commit stores s at the end of a request. A session the request left
// unchanged only has its expiry extended, so a slow request cannot
// overwrite what a concurrent one stored meanwhile.
func (m *Manager) commit(ctx context.Context, s *Session) error {
	if s.destroyed {
		return nil
	}
	if s.snapshot != nil && bytes.Equal(fingerprint(s), s.snapshot) {
		err := m.store.Touch(ctx, s.ID, s.ExpiresAt)
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return m.store.Put(ctx, s)
}

// Renew moves s to a new id, e.g. after login, and reissues the cookie.
func (m *Manager) Renew(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	s.ID = uuid.NewString()
	s.snapshot = nil
	return m.writeCookie(w, s)
}

// Destroy deletes s from the store and expires the cookie.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, s *Session) error {
	s.destroyed = true
	w.Header().Del("Set-Cookie")
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return m.store.Delete(ctx, s.ID)
}

// Middleware loads the session into the request context, extends its
// expiry, and stores it before the response starts.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := m.Load(r)
		s.ExpiresAt = time.Now().Add(m.maxAge)

		if err := m.writeCookie(w, s); err != nil {
			logging.WithContext(r.Context()).Error("issue session cookie failed", zap.Error(err))
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}

		ctx := NewContext(r.Context(), s)
		sw := &savingWriter{ResponseWriter: w, save: func() {
			// The request context may already be canceled when the client
			// went away; the session must still be written.
			if err := m.commit(context.WithoutCancel(ctx), s); err != nil {
				logging.WithContext(ctx).Error("save session failed", zap.Error(err))
			}
		}}
		next.ServeHTTP(sw, r.WithContext(ctx))
		sw.flush()
	})
}

// savingWriter stores the session right before the response starts, so a
// client reacting to the response always sees the updated session.
type savingWriter struct {
	http.ResponseWriter
	save  func()
	saved bool
}

func (w *savingWriter) flush() {
	if !w.saved {
		w.saved = true
		w.save()
	}
}

func (w *savingWriter) WriteHeader(code int) {
	w.flush()
	w.ResponseWriter.WriteHeader(code)
}

func (w *savingWriter) Write(b []byte) (int, error) {
	w.flush()
	return w.ResponseWriter.Write(b)
}

func (w *savingWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// RunSweeper removes expired sessions every interval until ctx is done and
// publishes the number of live sessions.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := m.store.Sweep(ctx, now)
			if err != nil {
				logging.Warn("session sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logging.Debug("expired sessions removed", zap.Int("count", n))
			}
			if count, err := m.store.Count(ctx); err == nil {
				metrics.SetActiveSessions(count)
			}
		}
	}
}

func (m *Manager) newSession() *Session {
	return &Session{ID: uuid.NewString()}
}

func (m *Manager) writeCookie(w http.ResponseWriter, s *Session) error {
	value, err := m.sign(s)
	if err != nil {
		return err
	}
	w.Header().Del("Set-Cookie")
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  s.ExpiresAt,
		MaxAge:   int(time.Until(s.ExpiresAt).Seconds()),
		HttpOnly: false, // the UI reads the cookie to detect an expired session
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (m *Manager) sign(s *Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.key)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

func (m *Manager) parse(value string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (interface{}, error) {
		return m.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return "", err
	}
	if claims.ID == "" {
		return "", errors.New("session cookie without id")
	}
	return claims.ID, nil
}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by Middleware, or nil.
func FromContext(ctx context.Context) *Session {
	s, _ := ctx.Value(contextKey{}).(*Session)
	return s
}
