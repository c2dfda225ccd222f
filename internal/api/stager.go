package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/stagerui/stager-ui/internal/auth"
	"github.com/stagerui/stager-ui/internal/config"
	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/internal/stager"
	"github.com/stagerui/stager-ui/internal/staging"
	"github.com/stagerui/stager-ui/pkg/protocol"
)

// stagerCreds returns the credentials for Stager calls and the user jobs
// are owned by. The stager login of the session wins over the OIDC access
// token.
func (s *Server) stagerCreds(r *http.Request) (stager.Credentials, string, bool) {
	sess := session.FromContext(r.Context())
	if c, ok := sess.Credential(session.BackendStager); ok {
		return stager.Credentials{Username: c.Username, Password: c.Password}, c.Username, true
	}
	if token := auth.AccessToken(r); token != "" && sess.User != nil {
		return stager.Credentials{BearerToken: token}, sess.User.Username, true
	}
	return stager.Credentials{}, "", false
}

func (s *Server) requireStager(w http.ResponseWriter, r *http.Request) (stager.Credentials, string, bool) {
	cred, user, ok := s.stagerCreds(r)
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "not logged in to the stager")
	}
	return cred, user, ok
}

// submitterKey identifies the submitter for rate limiting.
func (s *Server) submitterKey(r *http.Request) string {
	if _, user, ok := s.stagerCreds(r); ok {
		return user
	}
	if sess := session.FromContext(r.Context()); sess != nil {
		if sess.User != nil {
			return sess.User.Username
		}
		return sess.ID
	}
	return r.RemoteAddr
}

// handleStagerLogin handles POST /stager/login.
func (s *Server) handleStagerLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, ok := readLogin(w, r)
	if !ok {
		s.sendError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	data, err := s.stager.Login(ctx, stager.Credentials{Username: cred.Username, Password: cred.Password})
	if err != nil {
		logging.WithContext(ctx).Info("stager login failed", logging.User(cred.Username), logging.Err(err))
		status := http.StatusInternalServerError
		var se *stager.StatusError
		if errors.As(err, &se) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, struct{}{})
		return
	}

	session.FromContext(ctx).SetCredential(session.BackendStager, cred)
	logging.WithContext(ctx).Info("stager login", logging.User(cred.Username))
	s.writeRaw(w, http.StatusOK, data)
}

// handleStagerLogout handles POST /stager/logout.
func (s *Server) handleStagerLogout(w http.ResponseWriter, r *http.Request) {
	session.FromContext(r.Context()).ClearCredential(session.BackendStager)
	s.writeJSON(w, http.StatusOK, protocol.LogoutResponse{Logout: true})
}

// handleStagerDir handles GET /stager/dir?dir=<path>&isRoot=<bool>.
func (s *Server) handleStagerDir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cred, _, ok := s.requireStager(w, r)
	if !ok {
		return
	}
	dir, isRoot := dirQuery(r)
	if dir == "" {
		dir = s.module(config.ModuleStager).RootDir
	}

	entries, err := s.stager.ListDir(ctx, cred, dir)
	if err != nil {
		logging.WithContext(ctx).Warn("stager list failed", logging.String("dir", dir), logging.Err(err))
		s.writeJSON(w, http.StatusInternalServerError, []protocol.TreeNode{})
		return
	}
	s.writeJSON(w, http.StatusOK, stager.Nodes(dir, isRoot, entries))
}

// handleJobStats handles GET /stager/job/state.
func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	cred, _, ok := s.requireStager(w, r)
	if !ok {
		return
	}
	data, err := s.stager.Stats(r.Context(), cred)
	if err != nil {
		s.relayError(w, r, "stats", err)
		return
	}
	s.writeRaw(w, http.StatusOK, data)
}

// parseRange parses "<from>-<to>".
func parseRange(s string) (from, to int, err error) {
	a, b, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	if from, err = strconv.Atoi(a); err != nil {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	if to, err = strconv.Atoi(b); err != nil {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	if from < 0 || to < from {
		return 0, 0, fmt.Errorf("invalid range %q", s)
	}
	return from, to, nil
}

// handleListJobs handles GET /stager/jobs/[{state}/]{from}-{to}. Only jobs
// of the current user are returned.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	cred, user, ok := s.requireStager(w, r)
	if !ok {
		return
	}
	from, to, err := parseRange(r.PathValue("range"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, err := s.stager.ListJobs(r.Context(), cred, r.PathValue("state"), from, to)
	if err != nil {
		s.relayError(w, r, "list jobs", err)
		return
	}
	s.writeJSON(w, http.StatusOK, stager.FilterOwned(jobs, user))
}

// ownedJob loads the job of the path and writes 404 unless the current user
// owns it.
func (s *Server) ownedJob(w http.ResponseWriter, r *http.Request) (stager.Credentials, *stager.Job, bool) {
	cred, user, ok := s.requireStager(w, r)
	if !ok {
		return cred, nil, false
	}
	id := r.PathValue("id")
	job, err := s.stager.OwnedJob(r.Context(), cred, id, user)
	switch {
	case errors.Is(err, stager.ErrNotOwned), stager.IsStatus(err, http.StatusNotFound):
		s.sendError(w, http.StatusNotFound, "job "+id+" not found")
		return cred, nil, false
	case err != nil:
		s.relayError(w, r, "get job", err)
		return cred, nil, false
	}
	return cred, job, true
}

// handleGetJob handles GET /stager/job/{id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if _, job, ok := s.ownedJob(w, r); ok {
		s.writeJSON(w, http.StatusOK, job)
	}
}

// handleDeleteJob handles DELETE /stager/job/{id}.
func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	cred, job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	data, err := s.stager.DeleteJob(r.Context(), cred, job.ID)
	if err != nil {
		s.relayError(w, r, "delete job", err)
		return
	}
	logging.WithContext(r.Context()).Info("job deleted", logging.String("job_id", job.ID))
	s.writeRaw(w, http.StatusOK, data)
}

// handleRestartJob handles PUT /stager/job/{id}/state/inactive.
func (s *Server) handleRestartJob(w http.ResponseWriter, r *http.Request) {
	cred, job, ok := s.ownedJob(w, r)
	if !ok {
		return
	}
	data, err := s.stager.RestartJob(r.Context(), cred, job.ID)
	if err != nil {
		s.relayError(w, r, "restart job", err)
		return
	}
	logging.WithContext(r.Context()).Info("job restarted", logging.String("job_id", job.ID))
	s.writeRaw(w, http.StatusOK, data)
}

// relayError maps a Stager failure to an error response, keeping 4xx codes
// of the Stager.
func (s *Server) relayError(w http.ResponseWriter, r *http.Request, op string, err error) {
	logging.WithContext(r.Context()).Warn("stager "+op+" failed", logging.Err(err))
	var se *stager.StatusError
	if errors.As(err, &se) && se.Code >= 400 && se.Code < 500 {
		s.sendError(w, se.Code, op+" failed")
		return
	}
	s.sendError(w, http.StatusInternalServerError, op+" failed")
}

// handlePlanJobs handles POST /stager/jobs/plan. It computes the jobs of a
// selection without submitting them.
func (s *Server) handlePlanJobs(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	var req protocol.PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ui := s.config.UI
	var srcName, dstName string
	switch req.Action {
	case protocol.ActionUpload:
		srcName, dstName = ui.LocalModule, ui.RemoteModule
	case protocol.ActionDownload:
		srcName, dstName = ui.RemoteModule, ui.LocalModule
	default:
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("unknown action %q", req.Action))
		return
	}
	src, dst := s.module(srcName), s.module(dstName)

	sel := staging.Selection{Sources: req.Src, Destinations: req.Dst}
	if len(sel.Destinations) == 0 {
		cwd := req.Cwd
		if cwd == "" {
			cwd = dst.Cwd
		}
		if cwd != "" && cwd != dst.RootDir {
			sel.Destinations = []string{cwd}
		}
	}

	opts := staging.Options{SourcePrefix: src.PrefixTurl, DestinationPrefix: dst.PrefixTurl}
	if s.config.LegacySubstringMatch {
		opts.Match = staging.MatchSubstring
	}

	jobs, err := staging.Reduce(sel, opts)
	if err != nil {
		var ve *staging.ValidationError
		if errors.As(err, &ve) {
			s.writeJSON(w, http.StatusBadRequest, protocol.ErrorResponse{
				Error:   ve.Reason,
				Code:    http.StatusBadRequest,
				Details: ve.Detail,
			})
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}

	logging.WithContext(r.Context()).Debug("jobs planned",
		logging.String("action", req.Action),
		logging.Int("jobs", len(jobs)),
		logging.Bool("legacy_matches", opts.Match == staging.MatchSubstring))
	metrics.RecordJobsPlanned(len(jobs))
	s.writeJSON(w, http.StatusOK, staging.NewPreview(jobs))
}

// readJobs decodes the job list of a submission. The list arrives as a JSON
// array, or as a string holding one, in a JSON body or the form field jobs.
func readJobs(w http.ResponseWriter, r *http.Request) ([]staging.Job, error) {
	var raw json.RawMessage
	if isJSON(r) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		var body struct {
			Jobs json.RawMessage `json:"jobs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode body: %w", err)
		}
		raw = body.Jobs
	} else {
		values, err := formValues(w, r)
		if err != nil {
			return nil, err
		}
		raw = json.RawMessage(values["jobs"])
	}

	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode jobs: %w", err)
		}
		raw = json.RawMessage(inner)
		if len(strings.TrimSpace(inner)) == 0 {
			return nil, nil
		}
	}

	var jobs []staging.Job
	if err := json.Unmarshal(raw, &jobs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	for i, j := range jobs {
		if j.SrcURL == "" || j.DstURL == "" {
			return nil, fmt.Errorf("job %d: srcURL and dstURL are required", i)
		}
	}
	return jobs, nil
}

// handleSubmitJobs handles POST /stager/jobs. The RDM password of the
// session is encrypted before it leaves the server.
func (s *Server) handleSubmitJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logging.WithContext(ctx)

	jobs, err := readJobs(w, r)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(jobs) == 0 {
		s.writeJSON(w, http.StatusOK, []struct{}{})
		return
	}

	cred, user, ok := s.requireStager(w, r)
	if !ok {
		return
	}
	rdmCred, ok := session.FromContext(ctx).Credential(session.BackendRDM)
	if !ok {
		s.sendError(w, http.StatusUnauthorized, "not logged in to RDM")
		return
	}

	pass, err := s.encryptor.EncryptString(rdmCred.Password)
	if err != nil {
		log.Error("encrypt rdm password failed", logging.Err(err))
		s.sendError(w, http.StatusInternalServerError, "cannot encrypt credentials")
		return
	}

	submission := make([]stager.NewJob, 0, len(jobs))
	for _, j := range jobs {
		submission = append(submission, stager.NewTransferJob(j.SrcURL, j.DstURL, user, rdmCred.Username, pass))
	}

	data, err := s.stager.SubmitJobs(ctx, cred, submission)
	if err != nil {
		metrics.RecordJobsSubmitted(len(submission), false)
		log.Warn("job submission failed", logging.User(user), logging.Int("jobs", len(submission)), logging.Err(err))
		status := http.StatusInternalServerError
		var se *stager.StatusError
		if errors.As(err, &se) {
			status = http.StatusNotFound
		}
		s.writeJSON(w, status, []struct{}{})
		return
	}

	metrics.RecordJobsSubmitted(len(submission), true)
	log.Info("jobs submitted", logging.User(user), logging.Int("jobs", len(submission)))
	s.writeRaw(w, http.StatusOK, data)
}
