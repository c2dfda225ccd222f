package stager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stagerui/stager-ui/pkg/retry"
)

var alice = Credentials{Username: "alice", Password: "pw"}

func testClient(handler http.Handler) (*Client, *httptest.Server) {
	ts := httptest.NewServer(handler)
	c := New(Config{
		BaseURL: ts.URL,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
		},
	})
	return c, ts
}

const jobsJSON = `[
 {"id": 12, "type": "rdm", "state": "complete", "data": {"stagerUser": "alice", "srcURL": "/a/", "dstURL": "irods:/b/"}},
 {"id": "13", "type": "rdm", "state": "failed", "data": {"stagerUser": "bob"}},
 {"id": 14, "type": "rdm", "state": "active"}
]`

func TestListJobs_PathAndOwnership(t *testing.T) {
	var gotPath, gotUser string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, _, _ = r.BasicAuth()
		w.Write([]byte(jobsJSON))
	}))
	defer ts.Close()

	jobs, err := c.ListJobs(context.Background(), alice, "failed", 0, 9)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if gotPath != "/jobs/failed/0..9/desc" {
		t.Errorf("path %q", gotPath)
	}
	if gotUser != "alice" {
		t.Errorf("basic auth user %q", gotUser)
	}
	if len(jobs) != 3 || jobs[1].ID != "13" || jobs[0].ID != "12" {
		t.Fatalf("unexpected jobs %+v", jobs)
	}

	owned := FilterOwned(jobs, "alice")
	if len(owned) != 1 || owned[0].ID != "12" {
		t.Fatalf("unexpected owned jobs %+v", owned)
	}
	// Relayed jobs keep every field the Stager sent.
	out, _ := json.Marshal(owned)
	var back []map[string]interface{}
	json.Unmarshal(out, &back)
	if back[0]["state"] != "complete" || back[0]["data"].(map[string]interface{})["dstURL"] != "irods:/b/" {
		t.Errorf("job not relayed verbatim: %s", out)
	}

	if _, err := c.ListJobs(context.Background(), alice, "", 5, 6); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/jobs/5..6/desc" {
		t.Errorf("path without state %q", gotPath)
	}
}

func TestFilterOwned_EmptyUser(t *testing.T) {
	var jobs []Job
	json.Unmarshal([]byte(jobsJSON), &jobs)
	if owned := FilterOwned(jobs, ""); len(owned) != 0 || owned == nil {
		t.Errorf("expected empty non-nil list, got %#v", owned)
	}
}

func TestOwnedJob(t *testing.T) {
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/job/12":
			w.Write([]byte(`{"id": 12, "data": {"stagerUser": "alice"}}`))
		case "/job/13":
			w.Write([]byte(`{"id": 13, "data": {"stagerUser": "bob"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()
	ctx := context.Background()

	if job, err := c.OwnedJob(ctx, alice, "12", "alice"); err != nil || job.ID != "12" {
		t.Errorf("own job: %+v, %v", job, err)
	}
	if _, err := c.OwnedJob(ctx, alice, "13", "alice"); !errors.Is(err, ErrNotOwned) {
		t.Errorf("foreign job: expected ErrNotOwned, got %v", err)
	}
	if _, err := c.OwnedJob(ctx, alice, "99", "alice"); !IsStatus(err, http.StatusNotFound) {
		t.Errorf("missing job: expected 404 status error, got %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var calls int32
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"inactiveCount": 1}`))
	}))
	defer ts.Close()

	data, err := c.Stats(context.Background(), alice)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if string(data) != `{"inactiveCount": 1}` {
		t.Errorf("stats %s", data)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestSubmitJobs_NotRetried(t *testing.T) {
	var calls int32
	var got []NewJob
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.Method != http.MethodPost || r.URL.Path != "/job" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type %q", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	jobs := []NewJob{NewTransferJob("/project/a/", "irods:/rdm/a/", "alice", "alice@ru.nl", "c2VjcmV0")}
	_, err := c.SubmitJobs(context.Background(), alice, jobs)
	if !IsStatus(err, http.StatusServiceUnavailable) {
		t.Fatalf("expected 503 status error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("submit retried: %d calls", calls)
	}
	if len(got) != 1 || got[0].Data.Title != "sync to irods:/rdm/a/" || got[0].Options.Backoff.Delay != 60000 {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestBearerFallback(t *testing.T) {
	var auth string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c.Login(context.Background(), Credentials{BearerToken: "tok"})
	if auth != "Bearer tok" {
		t.Errorf("Authorization %q", auth)
	}
}

func TestListDirAndNodes(t *testing.T) {
	var body map[string]string
	c, ts := testClient(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`[{"name":"raw","type":"d"},{"name":"notes.txt","type":"f","size":42}]`))
	}))
	defer ts.Close()

	entries, err := c.ListDir(context.Background(), alice, "/project/3010000.01/")
	if err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	if body["dir"] != "/project/3010000.01/" {
		t.Errorf("request dir %q", body["dir"])
	}

	nodes := Nodes("/project/3010000.01/", false, entries)
	if nodes[0].ID != "/project/3010000.01/raw/" || !nodes[0].Children {
		t.Errorf("dir node %+v", nodes[0])
	}
	if nodes[1].ID != "/project/3010000.01/notes.txt" || nodes[1].LiAttr["title"] != "42 bytes" {
		t.Errorf("file node %+v", nodes[1])
	}
}
