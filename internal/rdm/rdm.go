// Package rdm browses the Research Data Management repository through its
// WebDAV interface, authenticating with the user's data-access account.
package rdm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"

	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/internal/session"
	"github.com/stagerui/stager-ui/pkg/protocol"
	"github.com/stagerui/stager-ui/pkg/retry"
)

// ErrUnauthorized is returned when the repository rejects the credential.
var ErrUnauthorized = errors.New("rdm: invalid username or password")

// Entry is one item of a collection listing.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// Client talks to one WebDAV endpoint. A fresh WebDAV client is created per
// call since every user has their own credential.
type Client struct {
	endpoint  string
	timeout   time.Duration
	transport http.RoundTripper
	retry     retry.Config
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds every WebDAV request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithTransport replaces the HTTP transport, e.g. in tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) { c.transport = rt }
}

// WithRetry replaces the retry policy for read operations.
func WithRetry(cfg retry.Config) Option {
	return func(c *Client) { c.retry = cfg }
}

// New creates a client for the WebDAV endpoint.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		timeout:  30 * time.Second,
		retry:    retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) dav(cred session.Credential) *gowebdav.Client {
	dav := gowebdav.NewClient(c.endpoint, cred.Username, cred.Password)
	dav.SetTimeout(c.timeout)
	if c.transport != nil {
		dav.SetTransport(c.transport)
	}
	return dav
}

// Login verifies cred by connecting and listing the root collection, which
// it returns.
func (c *Client) Login(ctx context.Context, cred session.Credential) ([]Entry, error) {
	start := time.Now()
	dav := c.dav(cred)
	err := retry.Do(ctx, c.retry, func() error {
		return classify(dav.Connect())
	})
	metrics.RecordBackendCall("rdm", "connect", time.Since(start), err)
	metrics.RecordAuthAttempt("rdm", err == nil)
	if err != nil {
		return nil, wrap("connect", err)
	}
	return c.readDir(ctx, dav, "/")
}

// ReadDir lists the collection dir.
func (c *Client) ReadDir(ctx context.Context, cred session.Credential, dir string) ([]Entry, error) {
	return c.readDir(ctx, c.dav(cred), dir)
}

func (c *Client) readDir(ctx context.Context, dav *gowebdav.Client, dir string) ([]Entry, error) {
	start := time.Now()
	infos, err := retry.DoWithResult(ctx, c.retry, func() ([]os.FileInfo, error) {
		infos, err := dav.ReadDir(dir)
		return infos, classify(err)
	})
	metrics.RecordBackendCall("rdm", "readdir", time.Since(start), err)
	if err != nil {
		return nil, wrap("read dir "+dir, err)
	}

	entries := make([]Entry, 0, len(infos))
	for _, fi := range infos {
		entries = append(entries, Entry{Name: fi.Name(), Size: fi.Size(), IsDir: fi.IsDir()})
	}
	return entries, nil
}

// Mkdir creates the collection dir. It is not retried: a repeated MKCOL
// would fail on the collection the first attempt created.
func (c *Client) Mkdir(ctx context.Context, cred session.Credential, dir string) error {
	start := time.Now()
	err := c.dav(cred).Mkdir(dir, 0o755)
	metrics.RecordBackendCall("rdm", "mkdir", time.Since(start), err)
	if err != nil {
		return wrap("mkdir "+dir, err)
	}
	return nil
}

// classify marks transport failures as retryable; WebDAV status errors are
// final.
func classify(err error) error {
	var ue *url.Error
	if err != nil && errors.As(err, &ue) {
		return retry.Retryable(err)
	}
	return err
}

func wrap(op string, err error) error {
	if gowebdav.IsErrCode(err, http.StatusUnauthorized) {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return fmt.Errorf("rdm %s: %w", op, err)
}

// Nodes converts a listing of dir into tree nodes. Ids are slash-joined
// WebDAV paths; directory ids end with "/".
func Nodes(dir string, isRoot bool, entries []Entry) []protocol.TreeNode {
	parent := dir
	if isRoot {
		parent = protocol.RootParent
	}
	base := strings.TrimSuffix(dir, "/") + "/"

	nodes := make([]protocol.TreeNode, 0, len(entries))
	for _, e := range entries {
		var n protocol.TreeNode
		if e.IsDir {
			n = protocol.NewDirNode(base+e.Name+"/", parent, e.Name)
			n.Type = "d"
		} else {
			n = protocol.NewFileNode(base+e.Name, parent, e.Name, e.Size)
			n.Type = "f"
		}
		nodes = append(nodes, n)
	}
	return nodes
}
