package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/parvum/devlink/internal/dispatch"
	"github.com/parvum/devlink/internal/protocol"
	"github.com/parvum/devlink/internal/relay"
	"github.com/parvum/devlink/internal/server"
)

// Primary is the role of the window that won the port bind. It serves
// browser clients directly, keeps the Secondary registry, fans
// workspace-scoped commands out to every registered Secondary and merges
// the answers, and delivers pushes on behalf of Secondaries. It implements
// server.Handler.
type Primary struct {
	windowID   string
	dispatcher *dispatch.Dispatcher
	registry   *Registry
	aggregator *Aggregator
	logger     *slog.Logger

	server *server.Server
	relay  *relay.Relay
}

// NewPrimary builds the Primary role around a dispatcher. Call Attach with
// the server before serving.
func NewPrimary(windowID string, dispatcher *dispatch.Dispatcher, registry *Registry, aggregator *Aggregator, logger *slog.Logger) *Primary {
	return &Primary{
		windowID:   windowID,
		dispatcher: dispatcher,
		registry:   registry,
		aggregator: aggregator,
		logger:     logger,
	}
}

// Attach wires the server whose connections this Primary serves. Needed
// because the server is constructed with the Primary as its handler.
func (p *Primary) Attach(s *server.Server) {
	p.server = s
	p.relay = relay.New(s, nil)
}

// Relay exposes the Primary's push relay.
func (p *Primary) Relay() *relay.Relay {
	return p.relay
}

// Registry exposes the Secondary registration table.
func (p *Primary) Registry() *Registry {
	return p.registry
}

// SetAggregationTimeout applies a reloaded aggregation deadline.
func (p *Primary) SetAggregationTimeout(timeout time.Duration) {
	p.aggregator.SetTimeout(timeout)
}

// OnRequest handles one request envelope from a connection: registration
// traffic inline, workspace-scoped commands through the aggregator when
// Secondaries are registered, everything else through the dispatcher.
func (p *Primary) OnRequest(c *server.Client, msg protocol.Message) {
	switch msg.Command {
	case protocol.CmdRegisterSecondary:
		p.handleRegisterSecondary(c, msg)
		return
	case protocol.CmdUnregisterSecondary:
		p.handleUnregisterSecondary(c, msg)
		return
	}

	if protocol.IsWorkspaceScoped(msg.Command) && p.registry.Len() > 0 {
		p.aggregate(c, msg)
		return
	}

	c.Send(p.dispatcher.Dispatch(context.Background(), msg, c.DispatchContext()))
}

// OnPush handles coordinator traffic from Secondaries.
func (p *Primary) OnPush(c *server.Client, msg protocol.Message) {
	switch msg.Command {
	case protocol.PushForwardResponseToPrimary:
		var payload protocol.ForwardResponsePayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			p.logger.Warn("Dropping malformed forward_response_to_primary", "error", err)
			return
		}
		p.aggregator.Deliver(payload.AggregationID, payload.WindowID, payload.Payload, payload.Error)
	case protocol.PushForwardPushToPrimary:
		var payload protocol.ForwardPushPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			p.logger.Warn("Dropping malformed forward_push_to_primary", "error", err)
			return
		}
		push, err := protocol.NewPush(payload.Command, payload.Payload)
		if err != nil {
			p.logger.Warn("Dropping unforwardable push", "command", payload.Command, "error", err)
			return
		}
		p.relay.Deliver(push)
	default:
		p.logger.Warn("Dropping unexpected push", "command", msg.Command)
	}
}

// OnDisconnect cleans up after a dropped connection. A Secondary's
// registration is removed and any aggregation waiting on it stops waiting.
// A restarted Secondary may have re-registered on a new socket before the
// old one timed out, so removal is conditional on the socket still owning
// the registration.
func (p *Primary) OnDisconnect(c *server.Client) {
	windowID := c.WindowID()
	if windowID == "" {
		return
	}
	if !p.registry.UnregisterConn(windowID, c) {
		return
	}
	p.logger.Info("Secondary disconnected", "window_id", windowID)
	p.aggregator.Drop(windowID)
}

func (p *Primary) handleRegisterSecondary(c *server.Client, msg protocol.Message) {
	var payload protocol.RegisterSecondaryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.WindowID == "" {
		c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindInvalidMessageFormat, "invalid register_secondary payload"))
		return
	}
	if err := p.registry.Register(payload.WindowID, payload.ListeningPort, c); err != nil {
		c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.ErrorKind(err), err.Error()))
		return
	}
	c.SetWindowID(payload.WindowID)
	p.logger.Info("Secondary registered",
		"window_id", payload.WindowID, "secondaries", p.registry.Len())
	p.respondOK(c, msg)
}

func (p *Primary) handleUnregisterSecondary(c *server.Client, msg protocol.Message) {
	var payload protocol.UnregisterSecondaryPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.WindowID == "" {
		c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindInvalidMessageFormat, "invalid unregister_secondary payload"))
		return
	}
	p.registry.Unregister(payload.WindowID)
	// Aggregations waiting on the departing window complete now instead of
	// riding out the full deadline.
	p.aggregator.Drop(payload.WindowID)
	p.logger.Info("Secondary unregistered", "window_id", payload.WindowID)
	p.respondOK(c, msg)
}

// aggregate answers a workspace-scoped command with the union of every open
// window's result: the Primary's own dispatch runs locally, the command is
// fanned out to each registered Secondary, and the merged result is sent
// once all answers arrive or the deadline passes.
func (p *Primary) aggregate(c *server.Client, msg protocol.Message) {
	local := p.localContribution(c, msg)
	expected := p.registry.WindowIDs()

	aggregationID := p.aggregator.Start(msg.Command, local, expected, func(results []Contribution) {
		merged := MergeResults(msg.Command, results)
		payload, err := protocol.SuccessResult(merged)
		if err != nil {
			c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
				protocol.KindCommandExecutionError, "merge aggregated results: "+err.Error()))
			return
		}
		resp, err := protocol.NewResponse(msg.MessageID, msg.Command, payload)
		if err != nil {
			return
		}
		c.Send(resp)
	})

	forward, err := protocol.NewPush(protocol.PushForwardRequest, protocol.ForwardRequestPayload{
		AggregationID: aggregationID,
		Command:       msg.Command,
		Payload:       msg.Payload,
	})
	if err != nil {
		p.logger.Error("Failed to build forward_request", "error", err)
		return
	}
	for _, reg := range p.registry.Snapshot() {
		reg.Client.Send(forward)
	}
}

// localContribution runs the command against this window's own workspace.
func (p *Primary) localContribution(c *server.Client, msg protocol.Message) Contribution {
	resp := p.dispatcher.Dispatch(context.Background(), msg, c.DispatchContext())
	return contributionFromResponse(p.windowID, resp)
}

func (p *Primary) respondOK(c *server.Client, msg protocol.Message) {
	payload, err := protocol.SuccessResult(protocol.OKData{OK: true})
	if err != nil {
		return
	}
	resp, err := protocol.NewResponse(msg.MessageID, msg.Command, payload)
	if err != nil {
		return
	}
	c.Send(resp)
}

// contributionFromResponse converts a dispatch response envelope into one
// window's aggregation contribution.
func contributionFromResponse(windowID string, resp protocol.Message) Contribution {
	if resp.Type == protocol.TypeErrorResponse {
		var payload protocol.ErrorPayload
		if err := json.Unmarshal(resp.Payload, &payload); err != nil {
			return Contribution{WindowID: windowID, Err: "command failed"}
		}
		return Contribution{WindowID: windowID, Err: payload.Code + ": " + payload.Message}
	}
	var result protocol.ResultPayload
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		return Contribution{WindowID: windowID, Err: "unreadable command result"}
	}
	return Contribution{WindowID: windowID, Data: result.Data}
}
