package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/protocol"
)

// Sender writes one envelope to the peer.
type Sender interface {
	Send(protocol.Message) error
}

// Router correlates responses with in-flight requests by messageId. Each
// request gets its own timeout; a timed-out slot is removed so a late answer
// is logged and dropped instead of resolving anything.
type Router struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
	onPush  func(protocol.Message)

	mu      sync.Mutex
	pending map[string]chan protocol.Message
}

// RouterOptions configures a Router.
type RouterOptions struct {
	// Timeout is the per-request deadline. Default 10s.
	Timeout time.Duration
	// OnPush receives inbound push envelopes.
	OnPush func(protocol.Message)
	// Logger defaults to the client component logger.
	Logger *slog.Logger
}

// NewRouter creates a router sending through sender. Wire HandleMessage as
// the connection's inbound sink.
func NewRouter(sender Sender, opts RouterOptions) *Router {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Client()
	}
	return &Router{
		sender:  sender,
		timeout: opts.Timeout,
		logger:  logger,
		onPush:  opts.OnPush,
		pending: make(map[string]chan protocol.Message),
	}
}

// Call sends a request and waits for its answer. An error_response resolves
// to a *protocol.Error carrying the payload's code; a missed deadline
// resolves to REQUEST_TIMEOUT. One outcome per request, never both.
func (r *Router) Call(ctx context.Context, command string, payload any) (protocol.Message, error) {
	req, err := protocol.NewRequest(command, payload)
	if err != nil {
		return protocol.Message{}, err
	}

	ch := make(chan protocol.Message, 1)
	r.mu.Lock()
	r.pending[req.MessageID] = ch
	timeout := r.timeout
	r.mu.Unlock()

	if err := r.sender.Send(req); err != nil {
		r.remove(req.MessageID)
		return protocol.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		if resp.Type == protocol.TypeErrorResponse {
			return resp, decodeErrorPayload(resp)
		}
		return resp, decodeResultFailure(resp)
	case <-timer.C:
		r.remove(req.MessageID)
		return protocol.Message{}, protocol.NewError(protocol.KindRequestTimeout,
			fmt.Sprintf("no response to %s within %s", command, timeout))
	case <-ctx.Done():
		r.remove(req.MessageID)
		return protocol.Message{}, ctx.Err()
	}
}

// SetTimeout changes the deadline applied to subsequent Calls. Requests
// already in flight keep the deadline they started with.
func (r *Router) SetTimeout(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	r.timeout = d
	r.mu.Unlock()
}

// Push sends a fire-and-forget push envelope.
func (r *Router) Push(command string, payload any) error {
	msg, err := protocol.NewPush(command, payload)
	if err != nil {
		return err
	}
	return r.sender.Send(msg)
}

// HandleMessage routes one inbound envelope: answers resolve their pending
// slot, pushes go to the push handler, anything else is dropped.
func (r *Router) HandleMessage(msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeResponse, protocol.TypeErrorResponse:
		r.mu.Lock()
		ch, ok := r.pending[msg.MessageID]
		if ok {
			delete(r.pending, msg.MessageID)
		}
		r.mu.Unlock()
		if !ok {
			r.logger.Debug("Dropping late or unknown response",
				"message_id", msg.MessageID, "command", msg.Command)
			return
		}
		ch <- msg
	case protocol.TypePush:
		if r.onPush != nil {
			r.onPush(msg)
			return
		}
		r.logger.Debug("Dropping unhandled push", "command", msg.Command)
	default:
		r.logger.Warn("Dropping unexpected inbound frame",
			"type", string(msg.Type), "command", msg.Command)
	}
}

// PendingCount reports the number of in-flight requests.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Router) remove(messageID string) {
	r.mu.Lock()
	delete(r.pending, messageID)
	r.mu.Unlock()
}

func decodeErrorPayload(msg protocol.Message) error {
	var payload protocol.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil || payload.Code == "" {
		return protocol.NewError(protocol.KindCommandExecutionError, "request failed")
	}
	return protocol.NewError(payload.Code, payload.Message)
}

// decodeResultFailure rejects a response whose payload explicitly reports
// failure. Responses without a success field pass through untouched.
func decodeResultFailure(msg protocol.Message) error {
	var result struct {
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		return nil
	}
	if result.Success == nil || *result.Success {
		return nil
	}
	message := result.Error
	if message == "" {
		message = "peer reported failure"
	}
	return protocol.NewError(protocol.KindCommandExecutionError, message)
}
