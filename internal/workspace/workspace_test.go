package workspace

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/parvum/devlink/internal/protocol"
)

// newTestWorkspace builds a small workspace tree for provider tests.
func newTestWorkspace(t *testing.T) *FSProvider {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"main.go":           "package main\n\nfunc main() {\n\tprintln(\"hello devlink\")\n}\n",
		"lib/util.go":       "package lib\n\n// devlink helper\nfunc Help() {}\n",
		"README.md":         "# demo\n\nnothing to see\n",
		".git/config":       "[core]\n",
		"node_modules/x.js": "devlink should never find this\n",
	}
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewFSProvider(root, true)
}

func TestSearch(t *testing.T) {
	p := newTestWorkspace(t)

	hits, err := p.Search(context.Background(), "devlink", 0)
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	paths := make(map[string]bool)
	for _, h := range hits {
		paths[h.Path] = true
		if h.Line <= 0 || h.Column <= 0 {
			t.Errorf("hit %+v has non-positive position", h)
		}
	}
	if !paths["main.go"] || !paths["lib/util.go"] {
		t.Errorf("expected hits in main.go and lib/util.go, got %v", paths)
	}
	if paths["node_modules/x.js"] {
		t.Error("ignored directories must not be searched")
	}
}

func TestSearchMaxResults(t *testing.T) {
	p := newTestWorkspace(t)
	hits, err := p.Search(context.Background(), "devlink", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Errorf("len(hits) = %d, want 1", len(hits))
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	p := newTestWorkspace(t)
	if _, err := p.Search(context.Background(), "", 0); err == nil {
		t.Error("empty query should be rejected")
	}
}

func TestFileTree(t *testing.T) {
	p := newTestWorkspace(t)
	nodes, err := p.FileTree(context.Background())
	if err != nil {
		t.Fatalf("FileTree() error: %v", err)
	}
	byPath := make(map[string]protocol.FileNode)
	for _, n := range nodes {
		byPath[n.Path] = n
	}
	if _, ok := byPath["main.go"]; !ok {
		t.Error("main.go missing from tree")
	}
	if n, ok := byPath["lib"]; !ok || !n.Dir {
		t.Error("lib directory missing or not marked as dir")
	}
	if _, ok := byPath[".git"]; ok {
		t.Error(".git must be excluded from the tree")
	}
	if byPath["main.go"].Size == 0 {
		t.Error("file nodes should carry sizes")
	}
}

func TestFileContent(t *testing.T) {
	p := newTestWorkspace(t)

	res, err := p.FileContent(context.Background(), "lib/util.go")
	if err != nil {
		t.Fatalf("FileContent() error: %v", err)
	}
	if res.Truncated {
		t.Error("small file should not be truncated")
	}
	if res.Content == "" {
		t.Error("content should not be empty")
	}
}

func TestFileContentNotFound(t *testing.T) {
	p := newTestWorkspace(t)
	_, err := p.FileContent(context.Background(), "missing.go")
	var pe *protocol.Error
	if !errors.As(err, &pe) || pe.Kind != protocol.KindFileNotFound {
		t.Errorf("error = %v, want FILE_NOT_FOUND", err)
	}
}

func TestFileContentRejectsEscape(t *testing.T) {
	p := newTestWorkspace(t)
	if _, err := p.FileContent(context.Background(), "../../etc/passwd"); err == nil {
		t.Error("path escaping the root must be rejected")
	}
}

func TestDiagnosticsStore(t *testing.T) {
	s := NewDiagnosticsStore()
	s.Set("a.go", []protocol.Diagnostic{
		{Path: "a.go", Line: 1, Severity: "error", Message: "broken"},
		{Path: "a.go", Line: 9, Severity: "warning", Message: "iffy"},
	})
	s.Set("b.go", []protocol.Diagnostic{
		{Path: "b.go", Line: 2, Severity: "error", Message: "also broken"},
	})

	if got := len(s.Snapshot("")); got != 3 {
		t.Errorf("Snapshot(\"\") = %d entries, want 3", got)
	}
	if got := len(s.Snapshot("error")); got != 2 {
		t.Errorf("Snapshot(error) = %d entries, want 2", got)
	}

	// Clearing a path removes its diagnostics.
	s.Set("a.go", nil)
	if got := len(s.Snapshot("")); got != 1 {
		t.Errorf("after clear, Snapshot(\"\") = %d entries, want 1", got)
	}
}

func TestProviderOpenAndTrusted(t *testing.T) {
	closed := NewFSProvider("", true)
	if closed.IsOpen() {
		t.Error("empty root should mean no workspace open")
	}
	untrusted := NewFSProvider(t.TempDir(), false)
	if untrusted.IsTrusted() {
		t.Error("untrusted workspace reported as trusted")
	}
}
