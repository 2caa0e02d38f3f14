// Package dispatch resolves inbound request envelopes to registered command
// handlers and maps their results back to response envelopes.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/parvum/devlink/internal/protocol"
)

// ClientContext describes the connection a request arrived on. Handlers may
// use it to scope their behavior; the dispatcher itself only reads it for
// logging.
type ClientContext struct {
	// RemoteAddr is the peer address of the originating socket.
	RemoteAddr string
	// Authenticated is the per-connection authentication flag.
	Authenticated bool
	// WindowID is set only for sockets that are Secondary-role peers.
	WindowID string
	// TabID is the browser tab registered on this connection, if any.
	TabID string
}

// Handler executes a single command. A nil result is wrapped as an empty
// success payload. Returning a *protocol.Error preserves its kind on the
// wire; any other error maps to COMMAND_EXECUTION_ERROR.
type Handler func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error)

// WorkspaceContext is the collaborator consulted for the central
// workspace precondition. Commands registered with
// RegisterWorkspaceCommand fail fast when it is unmet.
type WorkspaceContext interface {
	// IsOpen reports whether a workspace is open in this window.
	IsOpen() bool
	// IsTrusted reports whether the open workspace is trusted.
	IsTrusted() bool
}

// Dispatcher validates request envelopes, resolves command handlers and
// wraps results. It is safe for concurrent use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]registration

	workspace WorkspaceContext
	logger    *slog.Logger
}

type registration struct {
	handler           Handler
	requiresWorkspace bool
}

// New creates a dispatcher. workspace may be nil if no registered command
// requires the workspace precondition.
func New(workspace WorkspaceContext, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		handlers:  make(map[string]registration),
		workspace: workspace,
		logger:    logger,
	}
}

// Register registers a handler for a command, replacing any previous one.
func (d *Dispatcher) Register(command string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[command] = registration{handler: h}
}

// RegisterWorkspaceCommand registers a handler for a command that requires
// an open, trusted workspace. The precondition is checked centrally before
// the handler runs.
func (d *Dispatcher) RegisterWorkspaceCommand(command string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[command] = registration{handler: h, requiresWorkspace: true}
}

// Commands returns the registered command names.
func (d *Dispatcher) Commands() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	return names
}

// Dispatch executes the command named by a request envelope and returns the
// response envelope to send back. It never panics: handler panics are
// caught and mapped to COMMAND_EXECUTION_ERROR.
func (d *Dispatcher) Dispatch(ctx context.Context, msg protocol.Message, client *ClientContext) protocol.Message {
	if msg.Type != protocol.TypeRequest {
		return protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindInvalidMessageFormat,
			fmt.Sprintf("dispatch expects a request, got %q", msg.Type))
	}

	d.mu.RLock()
	reg, ok := d.handlers[msg.Command]
	d.mu.RUnlock()
	if !ok {
		if d.logger != nil {
			d.logger.Warn("Unknown command", "command", msg.Command, "remote_addr", clientAddr(client))
		}
		return protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindUnknownCommand,
			fmt.Sprintf("unknown command %q", msg.Command))
	}

	if reg.requiresWorkspace {
		if kind, reason := d.checkWorkspace(); kind != "" {
			return protocol.NewErrorResponse(msg.MessageID, msg.Command, kind, reason)
		}
	}

	result, err := d.invoke(ctx, reg.handler, msg, client)
	if err != nil {
		if d.logger != nil {
			d.logger.Warn("Command failed",
				"command", msg.Command,
				"error", err,
				"remote_addr", clientAddr(client))
		}
		return protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.ErrorKind(err), err.Error())
	}

	payload, err := protocol.SuccessResult(result)
	if err != nil {
		return protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindCommandExecutionError,
			fmt.Sprintf("marshal result: %v", err))
	}
	resp, err := protocol.NewResponse(msg.MessageID, msg.Command, payload)
	if err != nil {
		return protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindCommandExecutionError,
			fmt.Sprintf("build response: %v", err))
	}
	return resp
}

// invoke runs a handler with panic recovery.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, msg protocol.Message, client *ClientContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Error("Handler panicked", "command", msg.Command, "panic", r)
			}
			err = protocol.NewError(protocol.KindCommandExecutionError,
				fmt.Sprintf("handler panic: %v", r))
		}
	}()
	return h(ctx, msg.Payload, client)
}

// checkWorkspace returns the error kind and message for an unmet workspace
// precondition, or ("", "") when the precondition holds.
func (d *Dispatcher) checkWorkspace() (kind, reason string) {
	if d.workspace == nil || !d.workspace.IsOpen() {
		return protocol.KindNoWorkspaceOpen, "no workspace is open in this window"
	}
	if !d.workspace.IsTrusted() {
		return protocol.KindWorkspaceNotTrusted, "the open workspace is not trusted"
	}
	return "", ""
}

func clientAddr(client *ClientContext) string {
	if client == nil {
		return ""
	}
	return client.RemoteAddr
}
