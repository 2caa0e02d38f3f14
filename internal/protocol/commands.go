package protocol

// =============================================================================
// Browser → Server Commands
// =============================================================================

const (
	// CmdAuth authenticates the connection with a shared token.
	// Payload: { "token": string }
	CmdAuth = "auth"

	// CmdRegisterActiveTab registers the browser tab that should receive
	// push_snippet deliveries.
	// Payload: { "tab_id": string, "host": string }
	CmdRegisterActiveTab = "register_active_tab"

	// CmdSearchWorkspace searches all open windows for a query string.
	// Payload: { "query": string, "max_results": int (optional) }
	CmdSearchWorkspace = "search_workspace"

	// CmdGetFileTree returns the workspace file tree of all open windows.
	// Payload: none
	CmdGetFileTree = "get_file_tree"

	// CmdGetFileContent returns the content of a single file.
	// Payload: { "path": string }
	CmdGetFileContent = "get_file_content"

	// CmdGetDiagnostics returns current diagnostics across all open windows.
	// Payload: { "severity": string (optional filter) }
	CmdGetDiagnostics = "get_diagnostics"

	// CmdPing is an application-level liveness check.
	// Payload: none
	CmdPing = "ping"
)

// =============================================================================
// Window → Window Commands (coordinator traffic)
// =============================================================================

const (
	// CmdRegisterSecondary registers a Secondary window with the Primary.
	// Idempotent per window id.
	// Payload: { "window_id": string, "listening_port": int }
	CmdRegisterSecondary = "register_secondary"

	// CmdUnregisterSecondary removes a Secondary's registration.
	// Payload: { "window_id": string }
	CmdUnregisterSecondary = "unregister_secondary"

	// PushForwardRequest carries an aggregated command from the Primary to
	// a Secondary.
	// Payload: { "aggregation_id": string, "command": string, "payload": object }
	PushForwardRequest = "forward_request"

	// PushForwardResponseToPrimary carries a Secondary's answer for an
	// aggregated command back to the Primary.
	// Payload: { "aggregation_id": string, "window_id": string, "payload": object }
	PushForwardResponseToPrimary = "forward_response_to_primary"

	// PushForwardPushToPrimary asks the Primary to deliver a push on behalf
	// of a Secondary (only the Primary knows the active browser tab).
	// Payload: { "command": string, "payload": object }
	PushForwardPushToPrimary = "forward_push_to_primary"
)

// =============================================================================
// Server → Browser Pushes
// =============================================================================

const (
	// PushSnippet delivers generated content to the active browser tab.
	// Payload: { "text": string, "language": string, "target_tab_id": string (optional) }
	PushSnippet = "push_snippet"
)

// responseCommands maps a request command to the command name used on its
// response envelope. Commands not listed here fall back to
// "response_<command>".
var responseCommands = map[string]string{
	CmdSearchWorkspace:   "search_workspace_result",
	CmdGetFileTree:       "file_tree_result",
	CmdGetFileContent:    "file_content_result",
	CmdGetDiagnostics:    "diagnostics_result",
	CmdPing:              "pong",
	CmdAuth:              "auth_result",
	CmdRegisterActiveTab: "register_active_tab_result",
}

// ResponseCommand returns the response-variant command name paired with a
// request command.
func ResponseCommand(command string) string {
	if name, ok := responseCommands[command]; ok {
		return name
	}
	return "response_" + command
}

// workspaceScoped lists the commands whose answer must reflect all open
// windows. The Primary fans these out to every registered Secondary.
var workspaceScoped = map[string]bool{
	CmdSearchWorkspace: true,
	CmdGetFileTree:     true,
	CmdGetDiagnostics:  true,
}

// IsWorkspaceScoped reports whether a command is aggregated across windows.
func IsWorkspaceScoped(command string) bool {
	return workspaceScoped[command]
}
