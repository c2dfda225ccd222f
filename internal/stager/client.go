// Package stager is a client for the Stager REST API, the service that
// queues and runs the actual data transfers.
package stager

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/pkg/retry"
)

// ErrNotOwned is returned when a job exists but belongs to another user.
var ErrNotOwned = errors.New("job not found or not owned by user")

// StatusError reports a non-200 answer from the Stager.
type StatusError struct {
	Op   string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("stager %s: status %d: %s", e.Op, e.Code, e.Body)
	}
	return fmt.Sprintf("stager %s: status %d", e.Op, e.Code)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// Credentials authenticate a request. Basic auth is used when a username is
// set, otherwise the bearer token.
type Credentials struct {
	Username    string
	Password    string
	BearerToken string
}

func (c Credentials) apply(req *http.Request) {
	switch {
	case c.Username != "":
		req.SetBasicAuth(c.Username, c.Password)
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	RetryConfig retry.Config
}

// Client calls the Stager REST API.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	retryConfig retry.Config
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retryConfig: cfg.RetryConfig,
	}
}

// request describes one API call.
type request struct {
	op         string
	method     string
	path       string
	body       interface{}
	idempotent bool
}

// do runs r and returns the raw response body. Idempotent calls are retried
// on transport errors and 5xx answers.
func (c *Client) do(ctx context.Context, cred Credentials, r request) (json.RawMessage, error) {
	var payload []byte
	if r.body != nil {
		var err error
		if payload, err = json.Marshal(r.body); err != nil {
			return nil, fmt.Errorf("stager %s: encode request: %w", r.op, err)
		}
	}

	cfg := c.retryConfig
	if !r.idempotent {
		cfg.MaxAttempts = 1
	}

	start := time.Now()
	result, err := retry.DoWithResult(ctx, cfg, func() (json.RawMessage, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		cred.apply(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("stager %s: %w", r.op, err))
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, retry.Retryable(fmt.Errorf("stager %s: read response: %w", r.op, err))
		}

		if resp.StatusCode != http.StatusOK {
			serr := &StatusError{Op: r.op, Code: resp.StatusCode, Body: snippet(data)}
			if resp.StatusCode >= 500 {
				return nil, retry.Retryable(serr)
			}
			return nil, serr
		}
		return json.RawMessage(data), nil
	})
	metrics.RecordBackendCall("stager", r.op, time.Since(start), err)
	return result, err
}

func (c *Client) decode(ctx context.Context, cred Credentials, r request, v interface{}) error {
	data, err := c.do(ctx, cred, r)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("stager %s: decode response: %w", r.op, err)
	}
	return nil
}

// Login checks a username/password against the Stager.
func (c *Client) Login(ctx context.Context, cred Credentials) (json.RawMessage, error) {
	return c.do(ctx, cred, request{op: "login", method: http.MethodPost, path: "/fslogin/stager", idempotent: true})
}

// DirEntry is one item of a Stager directory listing.
type DirEntry struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"` // "f" for files, "d" for directories
}

// ListDir lists dir on the filesystem the Stager can access.
func (c *Client) ListDir(ctx context.Context, cred Credentials, dir string) ([]DirEntry, error) {
	var entries []DirEntry
	err := c.decode(ctx, cred, request{
		op:         "listdir",
		method:     http.MethodPost,
		path:       "/fstree/stager",
		body:       map[string]string{"dir": dir},
		idempotent: true,
	}, &entries)
	return entries, err
}

// Stats returns the job counts per state.
func (c *Client) Stats(ctx context.Context, cred Credentials) (json.RawMessage, error) {
	return c.do(ctx, cred, request{op: "stats", method: http.MethodGet, path: "/stats", idempotent: true})
}

// ListJobs returns jobs from index from to index to, newest first. An empty
// state lists jobs in every state.
func (c *Client) ListJobs(ctx context.Context, cred Credentials, state string, from, to int) ([]Job, error) {
	p := "/jobs/"
	if state != "" {
		p += url.PathEscape(state) + "/"
	}
	p += fmt.Sprintf("%d..%d/desc", from, to)

	var jobs []Job
	err := c.decode(ctx, cred, request{op: "listjobs", method: http.MethodGet, path: p, idempotent: true}, &jobs)
	return jobs, err
}

// GetJob returns a job by id.
func (c *Client) GetJob(ctx context.Context, cred Credentials, id string) (*Job, error) {
	var job Job
	err := c.decode(ctx, cred, request{op: "getjob", method: http.MethodGet, path: "/job/" + url.PathEscape(id), idempotent: true}, &job)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// OwnedJob returns the job if it belongs to user, and ErrNotOwned otherwise.
func (c *Client) OwnedJob(ctx context.Context, cred Credentials, id, user string) (*Job, error) {
	job, err := c.GetJob(ctx, cred, id)
	if err != nil {
		return nil, err
	}
	if !job.OwnedBy(user) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotOwned)
	}
	return job, nil
}

// DeleteJob removes a job.
func (c *Client) DeleteJob(ctx context.Context, cred Credentials, id string) (json.RawMessage, error) {
	return c.do(ctx, cred, request{op: "deletejob", method: http.MethodDelete, path: "/job/" + url.PathEscape(id), idempotent: true})
}

// RestartJob moves a stopped job back to the inactive queue.
func (c *Client) RestartJob(ctx context.Context, cred Credentials, id string) (json.RawMessage, error) {
	return c.do(ctx, cred, request{op: "restartjob", method: http.MethodPut, path: "/job/" + url.PathEscape(id) + "/state/inactive", idempotent: true})
}

// SubmitJobs queues jobs. It is never retried so a slow answer cannot
// queue the same transfers twice.
func (c *Client) SubmitJobs(ctx context.Context, cred Credentials, jobs []NewJob) (json.RawMessage, error) {
	return c.do(ctx, cred, request{op: "submit", method: http.MethodPost, path: "/job", body: jobs})
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
