// Package server implements the listening side of a window process: the
// loopback listener, the accepted-connection table, and the read/write
// pumps that feed decoded envelopes to a message handler.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/protocol"
)

// Handler receives decoded envelopes from accepted connections. OnRequest
// is invoked on its own goroutine per message so a slow command never
// blocks message receipt on any connection; OnPush and OnDisconnect are
// invoked from the owning connection's read pump.
type Handler interface {
	OnRequest(c *Client, msg protocol.Message)
	OnPush(c *Client, msg protocol.Message)
	OnDisconnect(c *Client)
}

// Options configures a Server.
type Options struct {
	// Security holds transport-level limits (zero value gets defaults).
	Security SecurityConfig
	// RateLimit configures the per-IP connection limiter (zero value gets
	// defaults).
	RateLimit RateLimitConfig
	// AuthToken is the shared token the auth command checks. Empty means
	// every connection is authenticated implicitly.
	AuthToken string
	// Logger defaults to the server component logger.
	Logger *slog.Logger
}

// Server owns the accepted-connection table and the HTTP/WebSocket accept
// path. Requests and pushes are routed to the Handler; the auth and
// register_active_tab commands mutate the connection record and are
// answered directly.
type Server struct {
	security  SecurityConfig
	authToken string
	handler   Handler
	logger    *slog.Logger

	tracker *ConnectionTracker
	limiter *ConnRateLimiter

	httpServer *http.Server

	mu      sync.RWMutex
	clients map[string]*Client
}

// New creates a server routing messages to handler.
func New(handler Handler, opts Options) *Server {
	security := opts.Security
	if security.MaxMessageSize == 0 {
		security = DefaultSecurityConfig()
	}
	rateLimit := opts.RateLimit
	if rateLimit.ConnectionsPerSecond == 0 {
		rateLimit = DefaultRateLimitConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Server()
	}

	s := &Server{
		security:  security,
		authToken: opts.AuthToken,
		handler:   handler,
		logger:    logger,
		tracker:   NewConnectionTracker(security.MaxConnectionsPerIP),
		limiter:   NewConnRateLimiter(rateLimit),
		clients:   make(map[string]*Client),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	s.httpServer = &http.Server{Handler: mux}

	return s
}

// Serve accepts connections on l until Shutdown is called or the listener
// fails. It always returns a non-nil error; after Shutdown the error is
// http.ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	return s.httpServer.Serve(l)
}

// Shutdown stops accepting connections and closes every live socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()
	for _, c := range clients {
		c.Close()
	}
	s.limiter.Close()
	return s.httpServer.Shutdown(ctx)
}

// Clients returns a snapshot of the current connections.
func (s *Server) Clients() []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	return out
}

// ActiveTabClient returns the connection whose tab registration is most
// recent, or nil when no tab is registered. This is the push relay's
// current-target lookup.
func (s *Server) ActiveTabClient() *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *Client
	for _, c := range s.clients {
		tabID, _ := c.ActiveTab()
		if tabID == "" {
			continue
		}
		if best == nil || c.tabRegisteredAt().After(best.tabRegisteredAt()) {
			best = c
		}
	}
	return best
}

// ClientByTab returns the connection that registered the given tab id.
func (s *Server) ClientByTab(tabID string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		id, _ := c.ActiveTab()
		if id == tabID {
			return c
		}
	}
	return nil
}

// Broadcast sends an envelope to every connection that is not a
// Secondary-role peer.
func (s *Server) Broadcast(msg protocol.Message) {
	for _, c := range s.Clients() {
		if c.WindowID() != "" {
			continue
		}
		c.Send(msg)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := ipFromRemoteAddr(r.RemoteAddr)

	if !s.limiter.Allow(clientIP) {
		s.logger.Warn("Connection rejected: rate limited", "client_ip", clientIP)
		http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
		return
	}
	if !s.tracker.TryAdd(clientIP) {
		s.logger.Warn("Connection rejected: too many connections from IP",
			"client_ip", clientIP, "current_count", s.tracker.Count(clientIP))
		http.Error(w, "Too many connections", http.StatusTooManyRequests)
		return
	}

	upgrader := newUpgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.tracker.Remove(clientIP)
		s.logger.Error("Upgrade failed", "error", err, "client_ip", clientIP)
		return
	}

	configureConn(conn, s.security)

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:         uuid.NewString(),
		server:     s,
		conn:       conn,
		send:       make(chan []byte, 256),
		remoteAddr: r.RemoteAddr,
		clientIP:   clientIP,
		ctx:        ctx,
		cancel:     cancel,
		// With no shared token configured every connection counts as
		// authenticated.
		authenticated: s.authToken == "",
	}

	s.mu.Lock()
	s.clients[client.ID] = client
	s.mu.Unlock()

	s.logger.Info("Connection established",
		"client_id", client.ID, "remote_addr", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// route hands a decoded envelope to the right consumer.
func (s *Server) route(c *Client, msg protocol.Message) {
	switch msg.Type {
	case protocol.TypeRequest:
		if msg.Command != protocol.CmdAuth && !c.Authenticated() {
			c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
				protocol.KindCommandExecutionError, "not authenticated"))
			return
		}
		switch msg.Command {
		case protocol.CmdAuth:
			s.handleAuth(c, msg)
		case protocol.CmdRegisterActiveTab:
			s.handleRegisterActiveTab(c, msg)
		default:
			go s.handler.OnRequest(c, msg)
		}
	case protocol.TypePush:
		if !c.Authenticated() {
			s.logger.Warn("Dropping push from unauthenticated connection",
				"client_id", c.ID, "command", msg.Command)
			return
		}
		s.handler.OnPush(c, msg)
	case protocol.TypeResponse, protocol.TypeErrorResponse:
		// The server never issues requests on accepted sockets; answers
		// travel as forward_response_to_primary pushes instead.
		s.logger.Warn("Dropping unexpected response frame",
			"client_id", c.ID, "command", msg.Command)
	}
}

// handleAuth checks the shared token and flips the connection flag.
func (s *Server) handleAuth(c *Client, msg protocol.Message) {
	var payload protocol.AuthPayload
	if len(msg.Payload) > 0 {
		if err := unmarshalPayload(msg.Payload, &payload); err != nil {
			c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
				protocol.KindInvalidMessageFormat, "invalid auth payload"))
			return
		}
	}
	if s.authToken != "" && payload.Token != s.authToken {
		c.SetAuthenticated(false)
		c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindCommandExecutionError, "invalid token"))
		return
	}
	c.SetAuthenticated(true)
	s.respondOK(c, msg)
}

// handleRegisterActiveTab records which browser tab this socket belongs to.
func (s *Server) handleRegisterActiveTab(c *Client, msg protocol.Message) {
	var payload protocol.RegisterActiveTabPayload
	if err := unmarshalPayload(msg.Payload, &payload); err != nil || payload.TabID == "" {
		c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
			protocol.KindInvalidMessageFormat, "invalid register_active_tab payload"))
		return
	}
	c.setActiveTab(payload.TabID, payload.Host)
	s.logger.Debug("Active tab registered",
		"client_id", c.ID, "tab_id", payload.TabID, "host", payload.Host)
	s.respondOK(c, msg)
}

func (s *Server) respondOK(c *Client, msg protocol.Message) {
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

// removeClient drops the record and notifies the handler exactly once.
func (s *Server) removeClient(c *Client) {
	s.mu.Lock()
	_, present := s.clients[c.ID]
	delete(s.clients, c.ID)
	s.mu.Unlock()
	if present {
		s.handler.OnDisconnect(c)
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	return json.Unmarshal(raw, v)
}

func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
