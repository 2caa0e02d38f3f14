// Package workspace implements the collaborator interfaces the protocol
// core consumes: workspace state, data providers for the workspace
// commands, and the diagnostics store.
package workspace

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/parvum/devlink/internal/protocol"
)

// Provider supplies workspace data for a single window.
type Provider interface {
	// IsOpen reports whether a workspace is open.
	IsOpen() bool
	// IsTrusted reports whether the open workspace is trusted.
	IsTrusted() bool
	// Search returns up to maxResults substring hits across workspace files.
	Search(ctx context.Context, query string, maxResults int) ([]protocol.SearchHit, error)
	// FileTree returns all files and directories in the workspace.
	FileTree(ctx context.Context) ([]protocol.FileNode, error)
	// FileContent returns the content of a single workspace-relative path.
	FileContent(ctx context.Context, path string) (protocol.FileContentResult, error)
	// Diagnostics returns current diagnostics, optionally filtered by severity.
	Diagnostics(ctx context.Context, severity string) ([]protocol.Diagnostic, error)
}

// ignoredDirs are directory names skipped during walks and searches.
var ignoredDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

const (
	// maxFileContentBytes caps get_file_content responses.
	maxFileContentBytes = 512 * 1024
	// maxSearchFileBytes caps the size of files scanned by search.
	maxSearchFileBytes = 1024 * 1024
	// defaultMaxResults bounds search results when the caller sets no limit.
	defaultMaxResults = 200
)

// FSProvider serves workspace data from a directory tree.
// It is safe for concurrent use.
type FSProvider struct {
	root    string
	trusted bool

	diagnostics *DiagnosticsStore
}

// NewFSProvider creates a provider rooted at root. An empty root means no
// workspace is open.
func NewFSProvider(root string, trusted bool) *FSProvider {
	return &FSProvider{
		root:        root,
		trusted:     trusted,
		diagnostics: NewDiagnosticsStore(),
	}
}

// IsOpen reports whether a workspace is open.
func (p *FSProvider) IsOpen() bool {
	return p.root != ""
}

// IsTrusted reports whether the workspace is trusted.
func (p *FSProvider) IsTrusted() bool {
	return p.trusted
}

// Root returns the workspace root directory.
func (p *FSProvider) Root() string {
	return p.root
}

// DiagnosticsStore returns the mutable diagnostics store for this window.
func (p *FSProvider) DiagnosticsStore() *DiagnosticsStore {
	return p.diagnostics
}

// Search scans workspace files for a substring and reports line/column hits.
func (p *FSProvider) Search(ctx context.Context, query string, maxResults int) ([]protocol.SearchHit, error) {
	if query == "" {
		return nil, protocol.NewError(protocol.KindCommandExecutionError, "search query is empty")
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	var hits []protocol.SearchHit
	err := p.walk(ctx, func(path string, info fs.DirEntry) error {
		if len(hits) >= maxResults {
			return fs.SkipAll
		}
		if info.IsDir() {
			return nil
		}
		fi, err := info.Info()
		if err != nil || fi.Size() > maxSearchFileBytes {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable files contribute nothing
		}
		if bytes.IndexByte(data, 0) >= 0 {
			return nil // binary
		}
		rel, _ := filepath.Rel(p.root, path)
		for lineNo, line := range strings.Split(string(data), "\n") {
			col := strings.Index(line, query)
			if col < 0 {
				continue
			}
			hits = append(hits, protocol.SearchHit{
				Path:    filepath.ToSlash(rel),
				Line:    lineNo + 1,
				Column:  col + 1,
				Preview: strings.TrimSpace(line),
			})
			if len(hits) >= maxResults {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return hits, nil
}

// FileTree walks the workspace and returns every entry.
func (p *FSProvider) FileTree(ctx context.Context) ([]protocol.FileNode, error) {
	var nodes []protocol.FileNode
	err := p.walk(ctx, func(path string, info fs.DirEntry) error {
		rel, _ := filepath.Rel(p.root, path)
		if rel == "." {
			return nil
		}
		node := protocol.FileNode{
			Path: filepath.ToSlash(rel),
			Dir:  info.IsDir(),
		}
		if !info.IsDir() {
			if fi, err := info.Info(); err == nil {
				node.Size = fi.Size()
			}
		}
		nodes = append(nodes, node)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return nodes, nil
}

// FileContent returns the content of a workspace-relative path. Content is
// truncated at maxFileContentBytes.
func (p *FSProvider) FileContent(ctx context.Context, path string) (protocol.FileContentResult, error) {
	abs, err := p.resolve(path)
	if err != nil {
		return protocol.FileContentResult{}, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return protocol.FileContentResult{}, protocol.NewError(protocol.KindFileNotFound,
				fmt.Sprintf("file not found: %s", path))
		}
		return protocol.FileContentResult{}, fmt.Errorf("read %s: %w", path, err)
	}
	result := protocol.FileContentResult{Path: path}
	if len(data) > maxFileContentBytes {
		result.Content = string(data[:maxFileContentBytes])
		result.Truncated = true
	} else {
		result.Content = string(data)
	}
	return result, nil
}

// Diagnostics returns the window's current diagnostics.
func (p *FSProvider) Diagnostics(ctx context.Context, severity string) ([]protocol.Diagnostic, error) {
	return p.diagnostics.Snapshot(severity), nil
}

// resolve maps a workspace-relative path to an absolute one, rejecting
// escapes from the root.
func (p *FSProvider) resolve(path string) (string, error) {
	if path == "" {
		return "", protocol.NewError(protocol.KindCommandExecutionError, "path is empty")
	}
	abs := filepath.Join(p.root, filepath.FromSlash(path))
	rel, err := filepath.Rel(p.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", protocol.NewError(protocol.KindFileNotFound,
			fmt.Sprintf("path escapes the workspace: %s", path))
	}
	return abs, nil
}

// walk visits every entry under the root, skipping ignored directories and
// honoring context cancellation.
func (p *FSProvider) walk(ctx context.Context, fn func(path string, info fs.DirEntry) error) error {
	return filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() && ignoredDirs[d.Name()] {
			return fs.SkipDir
		}
		return fn(path, d)
	})
}

// DiagnosticsStore holds the current diagnostics of one window. Producers
// (language servers, linters) replace diagnostics per file; the store only
// keeps the latest set.
type DiagnosticsStore struct {
	mu     sync.RWMutex
	byPath map[string][]protocol.Diagnostic
}

// NewDiagnosticsStore creates an empty store.
func NewDiagnosticsStore() *DiagnosticsStore {
	return &DiagnosticsStore{byPath: make(map[string][]protocol.Diagnostic)}
}

// Set replaces the diagnostics for a path. An empty slice clears the path.
func (s *DiagnosticsStore) Set(path string, diags []protocol.Diagnostic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(diags) == 0 {
		delete(s.byPath, path)
		return
	}
	s.byPath[path] = append([]protocol.Diagnostic(nil), diags...)
}

// Snapshot returns all diagnostics, optionally filtered by severity.
func (s *DiagnosticsStore) Snapshot(severity string) []protocol.Diagnostic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []protocol.Diagnostic
	for _, diags := range s.byPath {
		for _, d := range diags {
			if severity != "" && d.Severity != severity {
				continue
			}
			out = append(out, d)
		}
	}
	return out
}
