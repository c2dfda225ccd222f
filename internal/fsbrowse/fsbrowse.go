// Package fsbrowse lists directories of the filesystem local to the server.
package fsbrowse

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/stagerui/stager-ui/internal/logging"
	"github.com/stagerui/stager-ui/internal/metrics"
	"github.com/stagerui/stager-ui/pkg/protocol"
)

// Entry is one item of a directory listing.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

// ReadDir lists dir, following symlinks so a link to a directory is
// browsable. Entries that cannot be stat'ed are skipped.
func ReadDir(ctx context.Context, dir string) ([]Entry, error) {
	start := time.Now()
	des, err := os.ReadDir(dir)
	metrics.RecordBackendCall("fs", "readdir", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", dir, err)
	}

	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		info, err := os.Stat(filepath.Join(dir, de.Name()))
		if err != nil {
			logging.WithContext(ctx).Debug("skip entry", zap.String("name", de.Name()), zap.Error(err))
			continue
		}
		entries = append(entries, Entry{Name: de.Name(), Size: info.Size(), IsDir: info.IsDir()})
	}
	return entries, nil
}

// Nodes converts a listing of dir into tree nodes. Directory ids carry a
// trailing OS path separator.
func Nodes(dir string, isRoot bool, entries []Entry) []protocol.TreeNode {
	parent := dir
	if isRoot {
		parent = protocol.RootParent
	}

	nodes := make([]protocol.TreeNode, 0, len(entries))
	for _, e := range entries {
		id := filepath.Join(dir, e.Name)
		if e.IsDir {
			nodes = append(nodes, protocol.NewDirNode(id+string(filepath.Separator), parent, e.Name))
		} else {
			nodes = append(nodes, protocol.NewFileNode(id, parent, e.Name, e.Size))
		}
	}
	return nodes
}

// List returns the tree nodes of dir. An unreadable directory is logged
// and yields an empty list, so the panel shows it as empty.
func List(ctx context.Context, dir string, isRoot bool) []protocol.TreeNode {
	entries, err := ReadDir(ctx, dir)
	if err != nil {
		logging.WithContext(ctx).Warn("cannot open directory", zap.String("dir", dir), zap.Error(err))
		return []protocol.TreeNode{}
	}
	return Nodes(dir, isRoot, entries)
}
