package rdm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"golang.org/x/net/webdav"

	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/pkg/protocol"
	"github.com/stagerui/stager-ui/pkg/retry"
)

var goodCred = session.Credential{Username: "researcher@ru.nl", Password: "data-access"}

// newDAVServer serves an in-memory WebDAV tree behind basic auth.
func newDAVServer(t *testing.T) *httptest.Server {
	t.Helper()
	fs := webdav.NewMemFS()
	ctx := context.Background()
	if err := fs.Mkdir(ctx, "/di", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := fs.Mkdir(ctx, "/di/dccn", 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := fs.OpenFile(ctx, "/di/readme.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte("0123456789"))
	f.Close()

	dav := &webdav.Handler{FileSystem: fs, LockSystem: webdav.NewMemLS()}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != goodCred.Username || pass != goodCred.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="RDM"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		dav.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	return New(url,
		WithTimeout(5*time.Second),
		WithRetry(retry.Config{MaxAttempts: 1}),
	)
}

func TestLogin(t *testing.T) {
	srv := newDAVServer(t)
	c := newTestClient(srv.URL)

	entries, err := c.Login(context.Background(), goodCred)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "di" || !entries[0].IsDir {
		t.Errorf("unexpected root listing %+v", entries)
	}
}

func TestLogin_BadPassword(t *testing.T) {
	srv := newDAVServer(t)
	c := newTestClient(srv.URL)

	_, err := c.Login(context.Background(), session.Credential{Username: goodCred.Username, Password: "wrong"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestReadDirAndNodes(t *testing.T) {
	srv := newDAVServer(t)
	c := newTestClient(srv.URL)

	entries, err := c.ReadDir(context.Background(), goodCred, "/di/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	nodes := Nodes("/di/", false, entries)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %+v", nodes)
	}

	byID := map[string]protocol.TreeNode{}
	for _, n := range nodes {
		byID[n.ID] = n
	}
	d, ok := byID["/di/dccn/"]
	if !ok || d.Type != "d" || !d.Children || d.Parent != "/di/" {
		t.Errorf("unexpected dir node %+v", d)
	}
	f, ok := byID["/di/readme.txt"]
	if !ok || f.Type != "f" || f.LiAttr["title"] != "10 bytes" {
		t.Errorf("unexpected file node %+v", f)
	}
}

func TestMkdir(t *testing.T) {
	srv := newDAVServer(t)
	c := newTestClient(srv.URL)
	ctx := context.Background()

	if err := c.Mkdir(ctx, goodCred, "/di/new"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	entries, err := c.ReadDir(ctx, goodCred, "/di")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if e.Name == "new" && e.IsDir {
			found = true
		}
	}
	if !found {
		t.Errorf("new collection missing from %+v", entries)
	}

	if err := c.Mkdir(ctx, goodCred, "/missing/parent/child"); err == nil {
		t.Error("expected error for missing parent")
	}
}

func TestNodes_RootParent(t *testing.T) {
	nodes := Nodes("/", true, []Entry{{Name: "di", IsDir: true}})
	if nodes[0].ID != "/di/" || nodes[0].Parent != protocol.RootParent {
		t.Errorf("unexpected node %+v", nodes[0])
	}
}
