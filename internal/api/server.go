// Package api provides the HTTP server and handlers.
package api

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/stagerui/stager-ui/internal/auth"
	"github.com/stagerui/stager-ui/internal/config"
	"github.com/stagerui/stager-ui/internal/credential"
	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/internal/ratelimit"
	"github.com/stagerui/stager-ui/internal/rdm"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/internal/stager"
	"github.com/stagerui/stager-ui/pkg/protocol"
)

// maxBodySize bounds request bodies; job lists of large selections are the
// biggest payloads.
const maxBodySize = 50 << 20

// Deps bundles the components the server relays to.
type Deps struct {
	Config    *config.Config
	Sessions  *session.Manager
	Auth      *auth.Authenticator // nil when OIDC is disabled
	RDM       *rdm.Client
	Stager    *stager.Client
	Encryptor *credential.Encryptor // nil when no public key is configured
	Limiter   *ratelimit.Limiter
	Version   string
}

// Server is the HTTP server.
type Server struct {
	config    *config.Config
	sessions  *session.Manager
	auth      *auth.Authenticator
	rdm       *rdm.Client
	stager    *stager.Client
	encryptor *credential.Encryptor
	limiter   *ratelimit.Limiter
	version   string
}

// NewServer creates a new server.
func NewServer(d Deps) *Server {
	return &Server{
		config:    d.Config,
		sessions:  d.Sessions,
		auth:      d.Auth,
		rdm:       d.RDM,
		stager:    d.Stager,
		encryptor: d.Encryptor,
		limiter:   d.Limiter,
		version:   d.Version,
	}
}

// Handler returns the HTTP handler with session, auth, logging and metrics
// middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := func(h http.HandlerFunc) http.Handler {
		return s.auth.RequireUser(h)
	}

	// Public endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET "+auth.ForbiddenPath, s.handleForbidden)
	if s.auth != nil {
		mux.HandleFunc("GET /oidc/login", s.auth.HandleLogin)
		mux.HandleFunc("GET /oidc/callback", s.auth.HandleCallback)
		mux.HandleFunc("GET /oidc/logout", s.auth.HandleLogout)
	} else {
		mux.HandleFunc("GET /oidc/logout", s.handleLocalLogout)
	}
	mux.Handle("GET /oidc/profile", protect(auth.HandleProfile))

	// Panel parameters
	mux.Handle("GET /api/v1/params", protect(s.handleParams))

	// Local filesystem
	mux.Handle("GET /fs/dir", protect(s.handleFSDir))

	// RDM over WebDAV
	mux.Handle("POST /rdm/login", protect(s.handleRDMLogin))
	mux.Handle("POST /rdm/logout", protect(s.handleRDMLogout))
	mux.Handle("GET /rdm/dir", protect(s.handleRDMDir))
	mux.Handle("POST /rdm/mkdir", protect(s.handleRDMMkdir))

	// Stager
	mux.Handle("POST /stager/login", protect(s.handleStagerLogin))
	mux.Handle("POST /stager/logout", protect(s.handleStagerLogout))
	mux.Handle("GET /stager/dir", protect(s.handleStagerDir))
	mux.Handle("GET /stager/job/state", protect(s.handleJobStats))
	mux.Handle("GET /stager/jobs/{range}", protect(s.handleListJobs))
	mux.Handle("GET /stager/jobs/{state}/{range}", protect(s.handleListJobs))
	mux.Handle("GET /stager/job/{id}", protect(s.handleGetJob))
	mux.Handle("DELETE /stager/job/{id}", protect(s.handleDeleteJob))
	mux.Handle("PUT /stager/job/{id}/state/inactive", protect(s.handleRestartJob))
	mux.Handle("POST /stager/jobs/plan", protect(s.handlePlanJobs))
	submit := s.limiter.Middleware(s.submitterKey)(http.HandlerFunc(s.handleSubmitJobs))
	mux.Handle("POST /stager/jobs", s.auth.RequireUser(submit))

	// Health checks do not get a session.
	sessioned := s.sessions.Middleware(mux)
	root := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			mux.ServeHTTP(w, r)
			return
		}
		sessioned.ServeHTTP(w, r)
	})

	// Apply logging and metrics middleware
	return metrics.Middleware(mux, logging.Middleware(root))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleForbidden(w http.ResponseWriter, r *http.Request) {
	s.sendError(w, http.StatusForbidden, "Forbidden")
}

// handleLocalLogout ends the session when there is no provider to log out
// from.
func (s *Server) handleLocalLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Destroy(r.Context(), w, session.FromContext(r.Context())); err != nil {
		logging.WithContext(r.Context()).Warn("destroy session failed", logging.Err(err))
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeRaw relays a JSON body from a backend unchanged.
func (s *Server) writeRaw(w http.ResponseWriter, code int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.writeJSON(w, code, protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// formValues reads a flat set of string fields from a JSON object or a
// urlencoded/multipart form.
func formValues(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	values := make(map[string]string)

	if isJSON(r) {
		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		for k, v := range raw {
			if str, ok := v.(string); ok {
				values[k] = str
			}
		}
		return values, nil
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	for k := range r.PostForm {
		values[k] = r.PostForm.Get(k)
	}
	return values, nil
}
