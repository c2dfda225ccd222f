package api

import (
	"errors"
	"net/http"

	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/rdm"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/pkg/protocol"
)

// readLogin extracts username and password from a login form.
func readLogin(w http.ResponseWriter, r *http.Request) (session.Credential, bool) {
	values, err := formValues(w, r)
	if err != nil {
		return session.Credential{}, false
	}
	c := session.Credential{Username: values["username"], Password: values["password"]}
	return c, c.Username != "" && c.Password != ""
}

// handleRDMLogin handles POST /rdm/login. On success the credential is kept
// in the session and the root collection is returned.
func (s *Server) handleRDMLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, ok := readLogin(w, r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	entries, err := s.rdm.Login(ctx, cred)
	if err != nil {
		logging.WithContext(ctx).Info("rdm login failed", logging.User(cred.Username), logging.Err(err))
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}

	session.FromContext(ctx).SetCredential(session.BackendRDM, cred)
	logging.WithContext(ctx).Info("rdm login", logging.User(cred.Username))
	s.writeJSON(w, http.StatusOK, rdm.Nodes("/", true, entries))
}

// handleRDMLogout handles POST /rdm/logout.
func (s *Server) handleRDMLogout(w http.ResponseWriter, r *http.Request) {
	session.FromContext(r.Context()).ClearCredential(session.BackendRDM)
	s.writeJSON(w, http.StatusOK, protocol.LogoutResponse{Logout: true})
}

func (s *Server) rdmCredential(w http.ResponseWriter, r *http.Request) (session.Credential, bool) {
	cred, ok := session.FromContext(r.Context()).Credential(session.BackendRDM)
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "not logged in to RDM")
	}
	return cred, ok
}

// handleRDMDir handles GET /rdm/dir?dir=<path>&isRoot=<bool>.
func (s *Server) handleRDMDir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, ok := s.rdmCredential(w, r)
	if !ok {
		return
	}
	dir, isRoot := dirQuery(r)
	if dir == "" {
		dir = "/"
	}

	entries, err := s.rdm.ReadDir(ctx, cred, dir)
	if err != nil {
		logging.WithContext(ctx).Warn("rdm list failed", logging.String("dir", dir), logging.Err(err))
		status := http.StatusInternalServerError
		if errors.Is(err, rdm.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		s.writeJSON(w, status, []protocol.TreeNode{})
		return
	}
	s.writeJSON(w, http.StatusOK, rdm.Nodes(dir, isRoot, entries))
}

// handleRDMMkdir handles POST /rdm/mkdir.
func (s *Server) handleRDMMkdir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, ok := s.rdmCredential(w, r)
	if !ok {
		return
	}
	values, err := formValues(w, r)
	if err != nil || values["dir"] == "" {
		s.writeJSON(w, http.StatusBadRequest, []string{"dir is required"})
		return
	}

	if err := s.rdm.Mkdir(ctx, cred, values["dir"]); err != nil {
		logging.WithContext(ctx).Warn("rdm mkdir failed", logging.String("dir", values["dir"]), logging.Err(err))
		s.writeJSON(w, http.StatusInternalServerError, []string{err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, []string{"OK"})
}
