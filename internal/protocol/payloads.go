package protocol

import "encoding/json"

// ErrorPayload is the payload of every error_response.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResultPayload wraps a successful command result.
type ResultPayload struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// AuthPayload carries the shared token for the auth command.
type AuthPayload struct {
	Token string `json:"token"`
}

// RegisterActiveTabPayload registers the browser tab that receives pushes.
type RegisterActiveTabPayload struct {
	TabID string `json:"tab_id"`
	Host  string `json:"host,omitempty"`
}

// SearchPayload is the payload of search_workspace.
type SearchPayload struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// SearchHit is a single search result. WindowID identifies the window the
// hit came from so follow-up actions (e.g. "open this file") can be routed
// back to it.
type SearchHit struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Preview  string `json:"preview"`
	WindowID string `json:"window_id,omitempty"`
}

// WindowError reports a window that failed to contribute to an aggregated
// result. Failures travel next to the merged data instead of vetoing it.
type WindowError struct {
	WindowID string `json:"window_id"`
	Error    string `json:"error"`
}

// SearchResult is the data of a search_workspace_result.
type SearchResult struct {
	Results      []SearchHit   `json:"results"`
	WindowErrors []WindowError `json:"window_errors,omitempty"`
}

// FileNode is a single entry in a workspace file tree.
type FileNode struct {
	Path     string `json:"path"`
	Dir      bool   `json:"dir,omitempty"`
	Size     int64  `json:"size,omitempty"`
	WindowID string `json:"window_id,omitempty"`
}

// FileTreeResult is the data of a file_tree_result.
type FileTreeResult struct {
	Files        []FileNode    `json:"files"`
	WindowErrors []WindowError `json:"window_errors,omitempty"`
}

// FileContentPayload is the payload of get_file_content.
type FileContentPayload struct {
	Path string `json:"path"`
}

// FileContentResult is the data of a file_content_result.
type FileContentResult struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated,omitempty"`
}

// DiagnosticsPayload is the payload of get_diagnostics.
type DiagnosticsPayload struct {
	Severity string `json:"severity,omitempty"`
}

// Diagnostic is a single reported problem.
type Diagnostic struct {
	Path     string `json:"path"`
	Line     int    `json:"line"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Source   string `json:"source,omitempty"`
	WindowID string `json:"window_id,omitempty"`
}

// DiagnosticsResult is the data of a diagnostics_result.
type DiagnosticsResult struct {
	Diagnostics  []Diagnostic  `json:"diagnostics"`
	WindowErrors []WindowError `json:"window_errors,omitempty"`
}

// RegisterSecondaryPayload registers a Secondary window with the Primary.
type RegisterSecondaryPayload struct {
	WindowID      string `json:"window_id"`
	ListeningPort int    `json:"listening_port"`
}

// UnregisterSecondaryPayload removes a Secondary's registration.
type UnregisterSecondaryPayload struct {
	WindowID string `json:"window_id"`
}

// ForwardRequestPayload carries an aggregated command to a Secondary.
type ForwardRequestPayload struct {
	AggregationID string          `json:"aggregation_id"`
	Command       string          `json:"command"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// ForwardResponsePayload carries a Secondary's contribution back to the
// Primary.
type ForwardResponsePayload struct {
	AggregationID string          `json:"aggregation_id"`
	WindowID      string          `json:"window_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// ForwardPushPayload wraps a push a Secondary wants the Primary to deliver.
type ForwardPushPayload struct {
	Command string          `json:"command"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SnippetPayload is the payload of a push_snippet delivery.
type SnippetPayload struct {
	Text        string `json:"text"`
	Language    string `json:"language,omitempty"`
	TargetTabID string `json:"target_tab_id,omitempty"`
}

// OKData is the conventional data of a result that has nothing to report.
type OKData struct {
	OK bool `json:"ok"`
}

// SuccessResult marshals data into a ResultPayload with Success set.
func SuccessResult(data any) (ResultPayload, error) {
	raw, err := marshalPayload(data)
	if err != nil {
		return ResultPayload{}, err
	}
	return ResultPayload{Success: true, Data: raw}, nil
}
