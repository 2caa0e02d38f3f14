package coordinator

import (
	"encoding/json"
	"testing"

	"github.com/parvum/devlink/internal/protocol"
)

func marshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

func TestMergeSearchTagsProvenance(t *testing.T) {
	contributions := []Contribution{
		{WindowID: "window-1", Data: marshal(t, protocol.SearchResult{Results: []protocol.SearchHit{
			{Path: "a.go", Line: 3, Preview: "func A()"},
			{Path: "b.go", Line: 9, Preview: "func B()"},
		}})},
		{WindowID: "window-2", Data: marshal(t, protocol.SearchResult{Results: []protocol.SearchHit{
			{Path: "a.go", Line: 3, Preview: "func A()"},
		}})},
	}

	merged := MergeResults(protocol.CmdSearchWorkspace, contributions).(protocol.SearchResult)

	// Union without dedup: the same hit from two windows appears twice.
	if len(merged.Results) != 3 {
		t.Fatalf("merged %d hits, want 3", len(merged.Results))
	}
	for i, want := range []string{"window-1", "window-1", "window-2"} {
		if merged.Results[i].WindowID != want {
			t.Errorf("hit %d tagged %q, want %q", i, merged.Results[i].WindowID, want)
		}
	}
}

func TestMergePreservesExistingTags(t *testing.T) {
	contributions := []Contribution{
		{WindowID: "window-1", Data: marshal(t, protocol.SearchResult{Results: []protocol.SearchHit{
			{Path: "a.go", WindowID: "already-tagged"},
		}})},
	}
	merged := MergeResults(protocol.CmdSearchWorkspace, contributions).(protocol.SearchResult)
	if merged.Results[0].WindowID != "already-tagged" {
		t.Errorf("tag overwritten: %q", merged.Results[0].WindowID)
	}
}

func TestMergeFileTree(t *testing.T) {
	contributions := []Contribution{
		{WindowID: "window-1", Data: marshal(t, protocol.FileTreeResult{Files: []protocol.FileNode{
			{Path: "main.go", Size: 120},
			{Path: "internal", Dir: true},
		}})},
		{WindowID: "window-2", Data: marshal(t, protocol.FileTreeResult{Files: []protocol.FileNode{
			{Path: "lib.go", Size: 40},
		}})},
	}
	merged := MergeResults(protocol.CmdGetFileTree, contributions).(protocol.FileTreeResult)
	if len(merged.Files) != 3 {
		t.Fatalf("merged %d files, want 3", len(merged.Files))
	}
	if merged.Files[2].WindowID != "window-2" {
		t.Errorf("last node tagged %q, want window-2", merged.Files[2].WindowID)
	}
}

func TestMergeDiagnostics(t *testing.T) {
	contributions := []Contribution{
		{WindowID: "window-1", Data: marshal(t, protocol.DiagnosticsResult{Diagnostics: []protocol.Diagnostic{
			{Path: "a.go", Line: 1, Severity: "error", Message: "undefined: x"},
		}})},
		{WindowID: "window-2", Data: marshal(t, protocol.DiagnosticsResult{Diagnostics: []protocol.Diagnostic{
			{Path: "b.go", Line: 2, Severity: "warning", Message: "unused import"},
		}})},
	}
	merged := MergeResults(protocol.CmdGetDiagnostics, contributions).(protocol.DiagnosticsResult)
	if len(merged.Diagnostics) != 2 {
		t.Fatalf("merged %d diagnostics, want 2", len(merged.Diagnostics))
	}
	if merged.Diagnostics[1].WindowID != "window-2" {
		t.Errorf("diagnostic tagged %q, want window-2", merged.Diagnostics[1].WindowID)
	}
}

func TestMergeReportsFailedWindows(t *testing.T) {
	contributions := []Contribution{
		{WindowID: "window-1", Data: marshal(t, protocol.SearchResult{Results: []protocol.SearchHit{
			{Path: "a.go"},
		}})},
		{WindowID: "window-2", Err: "NO_WORKSPACE_OPEN: no workspace is open in this window"},
	}
	merged := MergeResults(protocol.CmdSearchWorkspace, contributions).(protocol.SearchResult)
	if len(merged.Results) != 1 {
		t.Fatalf("merged %d hits, want 1", len(merged.Results))
	}
	if len(merged.WindowErrors) != 1 || merged.WindowErrors[0].WindowID != "window-2" {
		t.Fatalf("window errors = %+v, want one for window-2", merged.WindowErrors)
	}
}

func TestMergeEmptyResultsStayNonNil(t *testing.T) {
	merged := MergeResults(protocol.CmdSearchWorkspace, []Contribution{
		{WindowID: "window-1", Data: marshal(t, protocol.SearchResult{})},
	}).(protocol.SearchResult)
	if merged.Results == nil {
		t.Error("results slice is nil, want empty")
	}
}
