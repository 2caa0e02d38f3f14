package coordinator

import (
	"encoding/json"

	"github.com/parvum/devlink/internal/protocol"
)

// Contribution is one window's answer to an aggregated command: the result
// data on success, an error string otherwise. WindowID says where it came
// from.
type Contribution struct {
	WindowID string
	Data     json.RawMessage
	Err      string
}

// MergeResults combines per-window result data for a workspace-scoped
// command into one result. The policy is a union in contribution order with
// every item tagged by its originating window; nothing is deduplicated, and
// failed windows are reported as window_errors next to the merged data
// rather than failing the whole aggregation.
func MergeResults(command string, contributions []Contribution) any {
	var failures []protocol.WindowError
	ok := contributions[:0:0]
	for _, c := range contributions {
		if c.Err != "" {
			failures = append(failures, protocol.WindowError{WindowID: c.WindowID, Error: c.Err})
			continue
		}
		ok = append(ok, c)
	}

	switch command {
	case protocol.CmdSearchWorkspace:
		merged := mergeSearch(ok)
		merged.WindowErrors = failures
		return merged
	case protocol.CmdGetFileTree:
		merged := mergeFileTree(ok)
		merged.WindowErrors = failures
		return merged
	case protocol.CmdGetDiagnostics:
		merged := mergeDiagnostics(ok)
		merged.WindowErrors = failures
		return merged
	default:
		// Not expected for the known workspace-scoped set; expose the raw
		// per-window data so nothing is silently lost.
		out := make([]map[string]json.RawMessage, 0, len(ok))
		for _, c := range ok {
			id, _ := json.Marshal(c.WindowID)
			out = append(out, map[string]json.RawMessage{
				"window_id": id,
				"data":      c.Data,
			})
		}
		return out
	}
}

func mergeSearch(contributions []Contribution) protocol.SearchResult {
	merged := protocol.SearchResult{Results: []protocol.SearchHit{}}
	for _, c := range contributions {
		var result protocol.SearchResult
		if err := json.Unmarshal(c.Data, &result); err != nil {
			continue
		}
		for _, hit := range result.Results {
			if hit.WindowID == "" {
				hit.WindowID = c.WindowID
			}
			merged.Results = append(merged.Results, hit)
		}
	}
	return merged
}

func mergeFileTree(contributions []Contribution) protocol.FileTreeResult {
	merged := protocol.FileTreeResult{Files: []protocol.FileNode{}}
	for _, c := range contributions {
		var result protocol.FileTreeResult
		if err := json.Unmarshal(c.Data, &result); err != nil {
			continue
		}
		for _, node := range result.Files {
			if node.WindowID == "" {
				node.WindowID = c.WindowID
			}
			merged.Files = append(merged.Files, node)
		}
	}
	return merged
}

func mergeDiagnostics(contributions []Contribution) protocol.DiagnosticsResult {
	merged := protocol.DiagnosticsResult{Diagnostics: []protocol.Diagnostic{}}
	for _, c := range contributions {
		var result protocol.DiagnosticsResult
		if err := json.Unmarshal(c.Data, &result); err != nil {
			continue
		}
		for _, diag := range result.Diagnostics {
			if diag.WindowID == "" {
				diag.WindowID = c.WindowID
			}
			merged.Diagnostics = append(merged.Diagnostics, diag)
		}
	}
	return merged
}
