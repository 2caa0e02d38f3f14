package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/parvum/devlink/internal/client"
	"github.com/parvum/devlink/internal/dispatch"
	"github.com/parvum/devlink/internal/protocol"
)

// Secondary is the role of a window that lost the port bind. It connects to
// the Primary, registers itself, answers forwarded workspace-scoped
// commands from its own workspace, and routes its outbound pushes through
// the Primary. When the connection to the Primary drops the election loop
// takes over; the Secondary never reconnects on its own.
type Secondary struct {
	windowID   string
	authToken  string
	dispatcher *dispatch.Dispatcher
	session    *client.Session
	logger     *slog.Logger

	lost     chan struct{}
	lostOnce sync.Once
}

// SecondaryOptions configures a Secondary role instance.
type SecondaryOptions struct {
	WindowID        string
	Ports           []int
	ConnectAttempts int
	RetryDelay      time.Duration
	DialTimeout     time.Duration
	RequestTimeout  time.Duration
	// AuthToken is the shared token the Primary's server checks. Both roles
	// carry the same configuration, so a Secondary authenticates with the
	// token it would itself require.
	AuthToken string
	Logger    *slog.Logger
}

// NewSecondary builds the Secondary role. Run connects and registers.
func NewSecondary(opts SecondaryOptions, dispatcher *dispatch.Dispatcher) *Secondary {
	s := &Secondary{
		windowID:   opts.WindowID,
		authToken:  opts.AuthToken,
		dispatcher: dispatcher,
		logger:     opts.Logger,
		lost:       make(chan struct{}),
	}
	s.session = client.NewSession(
		client.Options{
			Ports:           opts.Ports,
			ConnectAttempts: opts.ConnectAttempts,
			RetryDelay:      opts.RetryDelay,
			DialTimeout:     opts.DialTimeout,
			// The election loop decides what happens after a disconnect;
			// reconnecting here would race the rebind attempt.
			AutoReconnect: false,
			OnStatus: func(status client.Status) {
				if status == client.StatusDisconnected {
					s.lostOnce.Do(func() { close(s.lost) })
				}
			},
			Logger: opts.Logger,
		},
		client.RouterOptions{
			Timeout: opts.RequestTimeout,
			OnPush:  s.handlePush,
			Logger:  opts.Logger,
		},
	)
	return s
}

// Run connects to the Primary and registers this window. It returns after
// registration; use Lost to observe the connection dropping.
func (s *Secondary) Run(ctx context.Context) error {
	if err := s.session.Supervisor.EnsureConnected(ctx); err != nil {
		return err
	}
	if s.authToken != "" {
		if _, err := s.session.Router.Call(ctx, protocol.CmdAuth,
			protocol.AuthPayload{Token: s.authToken}); err != nil {
			s.session.Close()
			return err
		}
	}
	_, err := s.session.Router.Call(ctx, protocol.CmdRegisterSecondary, protocol.RegisterSecondaryPayload{
		WindowID: s.windowID,
		// Secondaries bind no port of their own; the field documents that.
		ListeningPort: 0,
	})
	if err != nil {
		s.session.Close()
		return err
	}
	s.logger.Info("Registered with Primary", "window_id", s.windowID, "port", s.session.Supervisor.Port())
	return nil
}

// SetRequestTimeout applies a reloaded per-request deadline to calls made
// toward the Primary.
func (s *Secondary) SetRequestTimeout(timeout time.Duration) {
	s.session.Router.SetTimeout(timeout)
}

// Lost is closed when the connection to the Primary drops unexpectedly.
func (s *Secondary) Lost() <-chan struct{} {
	return s.lost
}

// ForwardSnippet asks the Primary to deliver a push on this window's
// behalf. Only the Primary knows the active browser tab.
func (s *Secondary) ForwardSnippet(ctx context.Context, payload protocol.SnippetPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return s.session.Push(ctx, protocol.PushForwardPushToPrimary, protocol.ForwardPushPayload{
		Command: protocol.PushSnippet,
		Payload: raw,
	})
}

// Stop unregisters and closes the connection intentionally.
func (s *Secondary) Stop(ctx context.Context) {
	_, err := s.session.Router.Call(ctx, protocol.CmdUnregisterSecondary,
		protocol.UnregisterSecondaryPayload{WindowID: s.windowID})
	if err != nil {
		s.logger.Debug("Unregister on shutdown failed", "error", err)
	}
	s.session.Close()
}

// handlePush answers forwarded commands against this window's own
// workspace and reports the result back as a push.
func (s *Secondary) handlePush(msg protocol.Message) {
	if msg.Command != protocol.PushForwardRequest {
		s.logger.Debug("Dropping unexpected push from Primary", "command", msg.Command)
		return
	}
	var payload protocol.ForwardRequestPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		s.logger.Warn("Dropping malformed forward_request", "error", err)
		return
	}
	go s.answerForward(payload)
}

func (s *Secondary) answerForward(payload protocol.ForwardRequestPayload) {
	req := protocol.Message{
		ProtocolVersion: protocol.Version,
		MessageID:       protocol.NewMessageID(),
		Type:            protocol.TypeRequest,
		Command:         payload.Command,
		Payload:         payload.Payload,
	}
	resp := s.dispatcher.Dispatch(context.Background(), req, &dispatch.ClientContext{WindowID: s.windowID})
	contribution := contributionFromResponse(s.windowID, resp)

	err := s.session.Router.Push(protocol.PushForwardResponseToPrimary, protocol.ForwardResponsePayload{
		AggregationID: payload.AggregationID,
		WindowID:      s.windowID,
		Payload:       contribution.Data,
		Error:         contribution.Err,
	})
	if err != nil {
		s.logger.Warn("Failed to report aggregation answer", "error", err)
	}
}
