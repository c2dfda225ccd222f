package fsbrowse

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stagerui/stager-ui/pkg/protocol"
)

func TestList(t *testing.T) {
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	nodes := List(context.Background(), root, true)
	if len(nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %+v", nodes)
	}

	file, dir := nodes[0], nodes[1]
	if file.ID != filepath.Join(root, "a.txt") || file.Icon != protocol.IconFile || file.Children {
		t.Errorf("unexpected file node %+v", file)
	}
	if file.LiAttr["title"] != "5 bytes" {
		t.Errorf("file title %q", file.LiAttr["title"])
	}
	if file.Parent != protocol.RootParent {
		t.Errorf("root listing parent %q", file.Parent)
	}

	wantDir := filepath.Join(root, "sub") + string(filepath.Separator)
	if dir.ID != wantDir || dir.Icon != protocol.IconFolder || !dir.Children {
		t.Errorf("unexpected dir node %+v", dir)
	}
}

func TestList_NonRootParent(t *testing.T) {
	root := t.TempDir()
	os.WriteFile(filepath.Join(root, "x"), nil, 0o644)

	nodes := List(context.Background(), root, false)
	if len(nodes) != 1 || nodes[0].Parent != root {
		t.Errorf("unexpected nodes %+v", nodes)
	}
}

func TestList_Unreadable(t *testing.T) {
	nodes := List(context.Background(), filepath.Join(t.TempDir(), "missing"), true)
	if nodes == nil || len(nodes) != 0 {
		t.Errorf("expected empty non-nil list, got %#v", nodes)
	}
}

func TestReadDir_SkipsBrokenSymlink(t *testing.T) {
	root := t.TempDir()
	if err := os.Symlink(filepath.Join(root, "nowhere"), filepath.Join(root, "dangling")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	os.WriteFile(filepath.Join(root, "ok"), nil, 0o644)

	entries, err := ReadDir(context.Background(), root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "ok" {
		t.Errorf("unexpected entries %+v", entries)
	}
}
