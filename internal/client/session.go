package client

import (
	"context"

	"github.com/parvum/devlink/internal/protocol"
)

// Session couples a Supervisor with a Router into the usual client shape:
// connect on demand, then issue correlated requests and fire-and-forget
// pushes over the supervised connection.
type Session struct {
	Supervisor *Supervisor
	Router     *Router
}

// NewSession wires a supervisor and router together. The supervisor's
// inbound sink is the router; any OnMessage set in opts is replaced.
func NewSession(opts Options, routerOpts RouterOptions) *Session {
	sess := &Session{}
	opts.OnMessage = func(msg protocol.Message) {
		sess.Router.HandleMessage(msg)
	}
	sess.Supervisor = NewSupervisor(opts)
	sess.Router = NewRouter(sess.Supervisor, routerOpts)
	return sess
}

// Call connects if needed and issues one request.
func (s *Session) Call(ctx context.Context, command string, payload any) (protocol.Message, error) {
	if err := s.Supervisor.EnsureConnected(ctx); err != nil {
		return protocol.Message{}, err
	}
	return s.Router.Call(ctx, command, payload)
}

// Push connects if needed and sends one push.
func (s *Session) Push(ctx context.Context, command string, payload any) error {
	if err := s.Supervisor.EnsureConnected(ctx); err != nil {
		return err
	}
	return s.Router.Push(command, payload)
}

// Close tears the connection down intentionally.
func (s *Session) Close() {
	s.Supervisor.Close()
}
