// Package auth signs users in through an OpenID Connect provider and keeps
// their access tokens fresh.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/pkg/protocol"
)

// Paths served by this package.
const (
	LoginPath     = "/oidc/login"
	ForbiddenPath = "/error/403"
)

// Config holds OIDC provider configuration.
type Config struct {
	IssuerURL     string // e.g. https://auth.example.org
	ClientID      string
	ClientSecret  string
	RedirectURL   string // absolute URL of /oidc/callback
	Scopes        []string
	UsernameClaim string // userinfo claim holding the account name (default: "urn:dccn:uid")
	EndSessionURL string // overrides the discovered end_session_endpoint
}

// Authenticator runs the authorization code flow and guards routes that
// need a signed-in user.
type Authenticator struct {
	config     Config
	oauth      *oauth2.Config
	provider   *oidc.Provider
	verifier   *oidc.IDTokenVerifier
	endSession string
	sessions   *session.Manager
}

// New discovers the provider and creates an Authenticator.
// Returns nil if IssuerURL is empty (OIDC disabled).
func New(ctx context.Context, cfg Config, sessions *session.Manager) (*Authenticator, error) {
	if cfg.IssuerURL == "" {
		return nil, nil
	}

	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider init: %w", err)
	}

	if cfg.UsernameClaim == "" {
		cfg.UsernameClaim = "urn:dccn:uid"
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess}
	}

	endSession := cfg.EndSessionURL
	if endSession == "" {
		var discovered struct {
			EndSessionEndpoint string `json:"end_session_endpoint"`
		}
		if err := provider.Claims(&discovered); err == nil {
			endSession = discovered.EndSessionEndpoint
		}
	}
	if endSession == "" {
		endSession = strings.TrimSuffix(cfg.IssuerURL, "/") + "/connect/endsession"
	}

	logging.Info("OIDC provider initialized",
		zap.String("issuer", cfg.IssuerURL),
		zap.String("client_id", cfg.ClientID))

	return &Authenticator{
		config: cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       scopes,
		},
		provider:   provider,
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		endSession: endSession,
		sessions:   sessions,
	}, nil
}

// HandleLogin handles GET /oidc/login by redirecting to the provider.
func (a *Authenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	s := session.FromContext(r.Context())
	s.OAuthState = uuid.NewString()
	if rt := r.URL.Query().Get("returnTo"); isLocalPath(rt) {
		s.ReturnTo = rt
	}
	http.Redirect(w, r, a.oauth.AuthCodeURL(s.OAuthState), http.StatusFound)
}

// HandleCallback handles GET /oidc/callback.
func (a *Authenticator) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.WithContext(ctx)
	s := session.FromContext(ctx)

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		log.Warn("oidc provider returned error", zap.String("error", e), zap.String("description", q.Get("error_description")))
		a.fail(w, r)
		return
	}
	if s.OAuthState == "" || q.Get("state") != s.OAuthState {
		log.Warn("oidc state mismatch")
		a.fail(w, r)
		return
	}
	s.OAuthState = ""

	user, err := a.authenticate(ctx, q.Get("code"))
	if err != nil {
		log.Warn("oidc login failed", zap.Error(err))
		a.fail(w, r)
		return
	}

	s.User = user
	if err := a.sessions.Renew(ctx, w, s); err != nil {
		log.Error("renew session failed", zap.Error(err))
	}
	metrics.RecordAuthAttempt("oidc", true)
	log.Info("user signed in", logging.User(user.Username))

	target := s.ReturnTo
	s.ReturnTo = ""
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// authenticate exchanges code for tokens and builds the user from the
// verified ID token and the userinfo endpoint.
func (a *Authenticator) authenticate(ctx context.Context, code string) (*session.User, error) {
	token, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	rawID, _ := token.Extra("id_token").(string)
	if rawID == "" {
		return nil, errors.New("token response without id_token")
	}
	idToken, err := a.verifier.Verify(ctx, rawID)
	if err != nil {
		return nil, fmt.Errorf("verify id token: %w", err)
	}

	info, err := a.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	var claims map[string]interface{}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("parse userinfo: %w", err)
	}
	// Fall back to the ID token for providers that only put the claim there.
	if _, ok := claims[a.config.UsernameClaim]; !ok {
		var idClaims map[string]interface{}
		if err := idToken.Claims(&idClaims); err == nil {
			if v, ok := idClaims[a.config.UsernameClaim]; ok {
				claims[a.config.UsernameClaim] = v
			}
		}
	}

	username := claimString(claims, a.config.UsernameClaim)
	if username == "" {
		return nil, fmt.Errorf("missing %s claim in profile", a.config.UsernameClaim)
	}
	name := claimString(claims, "name")
	if name == "" {
		name = username
	}

	return &session.User{
		Username:    username,
		DisplayName: name,
		Email:       info.Email,
		IDToken:     rawID,
		Token:       token,
	}, nil
}

func (a *Authenticator) fail(w http.ResponseWriter, r *http.Request) {
	metrics.RecordAuthAttempt("oidc", false)
	http.Redirect(w, r, ForbiddenPath, http.StatusFound)
}

// HandleLogout handles GET /oidc/logout. The session is dropped and the
// browser is sent to the provider's end-session endpoint, which returns it
// to this server's origin.
func (a *Authenticator) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := session.FromContext(ctx)

	params := url.Values{}
	if s.User != nil && s.User.IDToken != "" {
		params.Set("id_token_hint", s.User.IDToken)
	}
	params.Set("post_logout_redirect_uri", Origin(r))

	if err := a.sessions.Destroy(ctx, w, s); err != nil {
		logging.WithContext(ctx).Warn("destroy session failed", zap.Error(err))
	}

	sep := "?"
	if strings.Contains(a.endSession, "?") {
		sep = "&"
	}
	http.Redirect(w, r, a.endSession+sep+params.Encode(), http.StatusFound)
}

// HandleProfile handles GET /oidc/profile.
func HandleProfile(w http.ResponseWriter, r *http.Request) {
	resp := protocol.ProfileResponse{}
	if s := session.FromContext(r.Context()); s != nil && s.User != nil {
		resp.Data = &protocol.Profile{ID: s.User.Username, Name: s.User.DisplayName}
	} else {
		msg := "no user profile"
		resp.Error = &msg
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Origin reconstructs the scheme and host the browser used, honoring
// X-Forwarded-Host and X-Forwarded-Proto from a reverse proxy.
func Origin(r *http.Request) string {
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	scheme := "http"
	proto := strings.ToLower(strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-Proto"), ",")[0]))
	if r.TLS != nil || proto == "https" {
		scheme = "https"
	}
	return scheme + "://" + host
}

func claimString(claims map[string]interface{}, key string) string {
	switch v := claims[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func isLocalPath(p string) bool {
	return strings.HasPrefix(p, "/") && !strings.HasPrefix(p, "//") && !strings.HasPrefix(p, `/\`)
}
