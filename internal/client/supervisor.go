// Package client implements the connecting side of the protocol: port-range
// discovery of a window process, supervised reconnection, and request/response
// correlation over a single WebSocket.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/protocol"
)

// Status describes the supervisor's connection lifecycle. Observers receive
// every transition, including repeated connection_error during a retry cycle.
type Status string

const (
	StatusConnecting       Status = "connecting"
	StatusConnected        Status = "connected"
	StatusDisconnected     Status = "disconnected_unexpectedly"
	StatusConnectionError  Status = "connection_error"
	StatusFailedMaxRetries Status = "failed_max_retries"
)

// ErrMaxRetries is returned by EnsureConnected after the configured number
// of connect cycles all failed. The supervisor is idle afterwards; a new
// EnsureConnected call starts a fresh cycle.
var ErrMaxRetries = errors.New("connect failed after maximum retries")

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("supervisor closed")

// Options configures a Supervisor.
type Options struct {
	// Ports is the shared range scanned for a listening window process.
	Ports []int
	// ConnectAttempts bounds the retry cycle. Default 5.
	ConnectAttempts int
	// RetryDelay is the fixed pause between failed attempts. Default 1s.
	RetryDelay time.Duration
	// DialTimeout bounds each port scan. Default 2s.
	DialTimeout time.Duration
	// AutoReconnect restarts the connect cycle after an unexpected
	// disconnect. Leave false when the caller runs its own recovery, as the
	// coordinator's election loop does.
	AutoReconnect bool
	// OnMessage receives every decoded inbound envelope.
	OnMessage func(protocol.Message)
	// OnStatus observes lifecycle transitions. Called synchronously; keep
	// it fast.
	OnStatus func(Status)
	// Logger defaults to the client component logger.
	Logger *slog.Logger
}

// Supervisor owns one outbound connection to a window process. Concurrent
// EnsureConnected calls share a single in-flight connect cycle; writes are
// serialized; an intentional Close never triggers reconnection.
type Supervisor struct {
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	conn       *websocket.Conn
	port       int
	connecting chan struct{}
	connectErr error
	closed     bool

	writeMu sync.Mutex
}

// NewSupervisor creates a supervisor. It does not connect; call
// EnsureConnected.
func NewSupervisor(opts Options) *Supervisor {
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Client()
	}
	return &Supervisor{opts: opts, logger: logger}
}

// EnsureConnected returns once a connection is established, reusing the
// current one when live. When another caller is already connecting, this
// call waits for that cycle instead of starting its own.
func (s *Supervisor) EnsureConnected(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return ErrClosed
		}
		if s.conn != nil {
			s.mu.Unlock()
			return nil
		}
		if ch := s.connecting; ch != nil {
			s.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			s.mu.Lock()
			err := s.connectErr
			s.mu.Unlock()
			if err != nil {
				return err
			}
			continue
		}
		ch := make(chan struct{})
		s.connecting = ch
		s.mu.Unlock()

		err := s.connectCycle(ctx)

		s.mu.Lock()
		s.connecting = nil
		s.connectErr = err
		s.mu.Unlock()
		close(ch)
		return err
	}
}

// connectCycle runs the bounded retry loop: scan the port range, pause,
// repeat. One successful dial installs the connection and starts the read
// pump.
func (s *Supervisor) connectCycle(ctx context.Context) error {
	s.notify(StatusConnecting)

	for attempt := 1; attempt <= s.opts.ConnectAttempts; attempt++ {
		conn, port, err := s.dialAny(ctx)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				conn.Close()
				return ErrClosed
			}
			s.conn = conn
			s.port = port
			s.mu.Unlock()

			s.logger.Info("Connected to window process", "port", port, "attempt", attempt)
			s.notify(StatusConnected)
			go s.readPump(conn)
			return nil
		}

		s.logger.Warn("Connect attempt failed",
			"attempt", attempt, "max_attempts", s.opts.ConnectAttempts, "error", err)
		s.notify(StatusConnectionError)

		if attempt < s.opts.ConnectAttempts {
			select {
			case <-time.After(s.opts.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	s.notify(StatusFailedMaxRetries)
	return ErrMaxRetries
}

// dialAny probes every port in the range concurrently and adopts the first
// successful connection. The rest are closed.
func (s *Supervisor) dialAny(ctx context.Context) (*websocket.Conn, int, error) {
	dialCtx, cancel := context.WithTimeout(ctx, s.opts.DialTimeout)
	defer cancel()

	type dialResult struct {
		conn *websocket.Conn
		port int
	}
	results := make(chan dialResult, len(s.opts.Ports))

	var wg sync.WaitGroup
	for _, port := range s.opts.Ports {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			url := fmt.Sprintf("ws://127.0.0.1:%d/ws", port)
			conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
			if resp != nil {
				resp.Body.Close()
			}
			if err != nil {
				return
			}
			results <- dialResult{conn: conn, port: port}
		}(port)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	first, ok := <-results
	if !ok {
		return nil, 0, fmt.Errorf("no window process listening on ports %v", s.opts.Ports)
	}
	// Losers of the race are closed as they trickle in.
	go func() {
		for r := range results {
			r.conn.Close()
		}
	}()
	return first.conn, first.port, nil
}

// Send writes one envelope. Writes are serialized; a supervisor with no
// live connection returns NOT_CONNECTED.
func (s *Supervisor) Send(msg protocol.Message) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return protocol.NewError(protocol.KindNotConnected, "no connection to a window process")
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Connected reports whether a live connection exists.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Port returns the port of the current connection, or 0 when disconnected.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return 0
	}
	return s.port
}

// Close tears the connection down intentionally. The read pump observes the
// close without reporting it as unexpected, and no reconnect is attempted.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
}

// readPump delivers inbound envelopes until the connection dies. Unexpected
// disconnects surface as a status transition and, with AutoReconnect, start
// a fresh connect cycle.
func (s *Supervisor) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.handleReadError(conn, err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			s.logger.Warn("Dropping undecodable inbound frame", "error", err)
			continue
		}
		if s.opts.OnMessage != nil {
			s.opts.OnMessage(msg)
		}
	}
}

func (s *Supervisor) handleReadError(conn *websocket.Conn, err error) {
	conn.Close()

	s.mu.Lock()
	intentional := s.closed || s.conn != conn
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	if intentional {
		return
	}

	s.logger.Warn("Connection lost", "error", err)
	s.notify(StatusDisconnected)

	if s.opts.AutoReconnect {
		go func() {
			if err := s.EnsureConnected(context.Background()); err != nil {
				s.logger.Error("Reconnect failed", "error", err)
			}
		}()
	}
}

func (s *Supervisor) notify(status Status) {
	if s.opts.OnStatus != nil {
		s.opts.OnStatus(status)
	}
}
