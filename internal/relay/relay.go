// Package relay delivers push envelopes to browser connections. Pushes are
// best-effort: a push with no deliverable target is logged and dropped, never
// queued.
package relay

import (
	"encoding/json"
	"log/slog"

	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/protocol"
	"github.com/parvum/devlink/internal/server"
)

// Relay routes pushes through the server's connection table. Only the
// Primary window runs a relay with live browser connections; Secondaries
// forward their pushes to the Primary instead.
type Relay struct {
	server *server.Server
	logger *slog.Logger
}

// New creates a relay over the given server's connections.
func New(s *server.Server, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = logging.Relay()
	}
	return &Relay{server: s, logger: logger}
}

// Deliver routes one push to the browser connection that should receive it:
// the explicitly targeted tab when the payload names one and it is
// connected, otherwise the most recently registered active tab. Reports
// whether the push was handed to a connection.
func (r *Relay) Deliver(msg protocol.Message) bool {
	var target *server.Client
	if tabID := targetTab(msg); tabID != "" {
		target = r.server.ClientByTab(tabID)
		if target == nil {
			r.logger.Warn("Target tab not connected, falling back to active tab",
				"command", msg.Command, "tab_id", tabID)
		}
	}
	if target == nil {
		target = r.server.ActiveTabClient()
	}
	if target == nil {
		r.logger.Warn("No active tab, dropping push", "command", msg.Command)
		return false
	}
	target.Send(msg)
	return true
}

// Snippet builds and delivers a push_snippet to the active tab.
func (r *Relay) Snippet(payload protocol.SnippetPayload) bool {
	msg, err := protocol.NewPush(protocol.PushSnippet, payload)
	if err != nil {
		r.logger.Error("Failed to build snippet push", "error", err)
		return false
	}
	return r.Deliver(msg)
}

// Broadcast sends a push to every browser connection.
func (r *Relay) Broadcast(msg protocol.Message) {
	r.server.Broadcast(msg)
}

// targetTab extracts the optional explicit target from a push payload.
func targetTab(msg protocol.Message) string {
	if msg.Command != protocol.PushSnippet || len(msg.Payload) == 0 {
		return ""
	}
	var payload protocol.SnippetPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return ""
	}
	return payload.TargetTabID
}
