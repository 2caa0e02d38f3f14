package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/parvum/devlink/internal/logging"
)

// ErrNoFreePort is returned when every port in the shared range is taken.
// A process seeing this becomes a Secondary.
var ErrNoFreePort = errors.New("no free port in the shared range")

// LocalhostListener wraps a net.Listener and only accepts connections from
// localhost. The shared port range is a loopback-only surface; even if the
// listener somehow ends up bound elsewhere, non-loopback peers are rejected
// at the socket level before any HTTP processing occurs.
type LocalhostListener struct {
	net.Listener
}

// NewLocalhostListener creates a new localhost-only listener.
func NewLocalhostListener(l net.Listener) *LocalhostListener {
	return &LocalhostListener{Listener: l}
}

// Accept waits for and returns the next connection to the listener.
// Connections from non-loopback IPs are immediately closed.
func (l *LocalhostListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if !isLoopbackConnection(conn) {
			logging.Server().Warn("Rejected non-localhost connection on shared port",
				"remote_addr", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		return conn, nil
	}
}

// isLoopbackConnection checks if a connection originates from localhost.
func isLoopbackConnection(conn net.Conn) bool {
	remoteAddr := conn.RemoteAddr()
	if remoteAddr == nil {
		return false
	}

	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		host = remoteAddr.String()
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// Listen creates a localhost-only TCP listener on the given port.
func Listen(port int) (*LocalhostListener, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	return NewLocalhostListener(listener), nil
}

// BindFirstFree attempts to bind each port in order and returns a listener
// on the first free one. This is the leader-election primitive: the process
// that wins a bind becomes the Primary for that port range. ErrNoFreePort
// means every port is taken and the caller should run as a Secondary.
func BindFirstFree(ports []int) (*LocalhostListener, int, error) {
	for _, port := range ports {
		l, err := Listen(port)
		if err == nil {
			return l, port, nil
		}
	}
	return nil, 0, ErrNoFreePort
}
