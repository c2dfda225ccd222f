package auth

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/pkg/protocol"
)

// RequireUser rejects requests whose session has no valid OIDC token. An
// expired access token is refreshed once through the refresh token. With
// OIDC disabled (nil Authenticator) every request passes.
func (a *Authenticator) RequireUser(next http.Handler) http.Handler {
	if a == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := session.FromContext(r.Context())
		if s == nil || s.User == nil || s.User.Token == nil {
			unauthorized(w, r)
			return
		}
		if !s.User.Token.Valid() && !a.refresh(r, s) {
			s.User = nil
			unauthorized(w, r)
			return
		}
		ctx := logging.WithFields(r.Context(), logging.User(s.User.Username))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) refresh(r *http.Request, s *session.Session) bool {
	log := logging.WithContext(r.Context())
	if s.User.Token.RefreshToken == "" {
		return false
	}

	token, err := a.oauth.TokenSource(r.Context(), s.User.Token).Token()
	if err != nil {
		metrics.RecordTokenRefresh(false)
		log.Info("token refresh failed", logging.User(s.User.Username), zap.Error(err))
		return false
	}
	metrics.RecordTokenRefresh(true)

	if rawID, ok := token.Extra("id_token").(string); ok && rawID != "" {
		s.User.IDToken = rawID
	}
	s.User.Token = token
	log.Debug("access token refreshed", logging.User(s.User.Username))
	return true
}

// AccessToken returns the OIDC access token held by the request session.
func AccessToken(r *http.Request) string {
	s := session.FromContext(r.Context())
	if s == nil || s.User == nil || s.User.Token == nil {
		return ""
	}
	return s.User.Token.AccessToken
}

// unauthorized sends page navigations to the login flow and answers API
// calls with 401.
func unauthorized(w http.ResponseWriter, r *http.Request) {
	if wantsHTML(r) {
		target := LoginPath
		if r.Method == http.MethodGet {
			target += "?returnTo=" + url.QueryEscape(r.URL.RequestURI())
		}
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	sendAuthError(w, http.StatusUnauthorized, "Unauthorized")
}

func wantsHTML(r *http.Request) bool {
	if r.Header.Get("X-Requested-With") == "XMLHttpRequest" {
		return false
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
