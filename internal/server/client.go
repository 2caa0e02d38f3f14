package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parvum/devlink/internal/dispatch"
	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/protocol"
)

// Client is the server-side record of one accepted socket: a browser
// client, the CLI, or a Secondary-role peer. Created on accept, destroyed
// on socket close.
type Client struct {
	// ID identifies this connection for logging and tab routing.
	ID string

	server *Server
	conn   *websocket.Conn
	send   chan []byte

	remoteAddr string
	clientIP   string

	// WebSocket lifecycle context
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.RWMutex
	authenticated bool
	activeTabID   string
	activeHost    string
	tabRegistered time.Time
	windowID      string
}

// Send queues an envelope for delivery. Non-blocking: if the send buffer
// is full the message is dropped and logged.
func (c *Client) Send(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		logging.Server().Error("Failed to encode outgoing message",
			"command", msg.Command, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		logging.Server().Warn("Send buffer full, dropping message",
			"command", msg.Command, "client_id", c.ID, "remote_addr", c.remoteAddr)
	}
}

// RemoteAddr returns the peer address of the socket.
func (c *Client) RemoteAddr() string {
	return c.remoteAddr
}

// Authenticated reports the per-connection authentication flag.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// SetAuthenticated sets the per-connection authentication flag.
func (c *Client) SetAuthenticated(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = v
}

// ActiveTab returns the browser tab registered on this connection, if any.
func (c *Client) ActiveTab() (tabID, host string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeTabID, c.activeHost
}

// setActiveTab records the tab this connection belongs to.
func (c *Client) setActiveTab(tabID, host string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeTabID = tabID
	c.activeHost = host
	c.tabRegistered = time.Now()
}

// tabRegisteredAt returns when the tab was last registered (zero if never).
func (c *Client) tabRegisteredAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tabRegistered
}

// WindowID returns the window id for Secondary-role peers, empty otherwise.
func (c *Client) WindowID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.windowID
}

// SetWindowID marks this socket as a Secondary-role peer.
func (c *Client) SetWindowID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windowID = id
}

// DispatchContext snapshots this record for command handlers.
func (c *Client) DispatchContext() *dispatch.ClientContext {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &dispatch.ClientContext{
		RemoteAddr:    c.remoteAddr,
		Authenticated: c.authenticated,
		WindowID:      c.windowID,
		TabID:         c.activeTabID,
	}
}

// Close tears down the socket. The read pump observes the close and runs
// the usual disconnect path.
func (c *Client) Close() {
	c.cancel()
	c.conn.Close()
}

// writePump pumps queued messages to the socket and handles ping keepalive.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.security.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.security.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			c.conn.WriteMessage(websocket.TextMessage, message)
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.server.security.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// readPump reads frames until the socket closes, decoding and routing each
// message. Malformed frames produce exactly one error_response when a
// messageId could be recovered and are otherwise logged and dropped; the
// loop itself never dies on bad input.
func (c *Client) readPump() {
	log := logging.Server()

	defer func() {
		c.cancel()
		c.server.removeClient(c)
		if c.clientIP != "" {
			c.server.tracker.Remove(c.clientIP)
		}
		c.conn.Close()
		log.Info("Connection closed", "client_id", c.ID, "remote_addr", c.remoteAddr)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("Connection closed normally", "client_id", c.ID)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("Unexpected close", "client_id", c.ID, "error", err)
			}
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			if msg.MessageID != "" {
				c.Send(protocol.NewErrorResponse(msg.MessageID, msg.Command,
					protocol.ErrorKind(err), err.Error()))
			} else {
				log.Warn("Dropping undecodable frame",
					"client_id", c.ID, "error", err)
			}
			continue
		}

		c.server.route(c, msg)
	}
}
