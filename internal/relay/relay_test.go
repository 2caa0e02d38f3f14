package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parvum/devlink/internal/protocol"
	"github.com/parvum/devlink/internal/server"
)

type nopHandler struct{}

func (nopHandler) OnRequest(c *server.Client, msg protocol.Message) {}
func (nopHandler) OnPush(c *server.Client, msg protocol.Message)    {}
func (nopHandler) OnDisconnect(c *server.Client)                    {}

type harness struct {
	server *server.Server
	relay  *Relay
	port   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	s := server.New(nopHandler{}, server.Options{})
	l, err := server.Listen(0)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	port := l.Addr().(*net.TCPAddr).Port
	return &harness{server: s, relay: New(s, nil), port: port}
}

// connectTab dials the server and registers a browser tab on the socket.
func (h *harness) connectTab(t *testing.T, tabID string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d/ws", h.port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if tabID == "" {
		return conn
	}
	req, _ := protocol.NewRequest(protocol.CmdRegisterActiveTab,
		protocol.RegisterActiveTabPayload{TabID: tabID})
	data, _ := protocol.Encode(req)
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("register tab: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err != nil {
		t.Fatalf("read register response: %v", err)
	}
	return conn
}

func readPush(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read push: %v", err)
	}
	var msg protocol.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode push: %v", err)
	}
	return msg
}

func TestSnippetGoesToActiveTab(t *testing.T) {
	h := newHarness(t)
	conn := h.connectTab(t, "tab-1")

	if !h.relay.Snippet(protocol.SnippetPayload{Text: "x := 1", Language: "go"}) {
		t.Fatal("delivery reported failure")
	}

	msg := readPush(t, conn)
	if msg.Command != protocol.PushSnippet {
		t.Errorf("command = %q, want push_snippet", msg.Command)
	}
	var payload protocol.SnippetPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Text != "x := 1" || payload.Language != "go" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestSnippetHonorsExplicitTarget(t *testing.T) {
	h := newHarness(t)
	first := h.connectTab(t, "tab-1")
	second := h.connectTab(t, "tab-2")

	// tab-2 registered last and is the active tab, but the push names tab-1.
	if !h.relay.Snippet(protocol.SnippetPayload{Text: "y", TargetTabID: "tab-1"}) {
		t.Fatal("delivery reported failure")
	}

	msg := readPush(t, first)
	if msg.Command != protocol.PushSnippet {
		t.Errorf("command = %q, want push_snippet", msg.Command)
	}

	second.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := second.ReadMessage(); err == nil {
		t.Error("push delivered to the wrong tab")
	}
}

func TestUnknownTargetFallsBackToActiveTab(t *testing.T) {
	h := newHarness(t)
	conn := h.connectTab(t, "tab-1")

	if !h.relay.Snippet(protocol.SnippetPayload{Text: "z", TargetTabID: "gone"}) {
		t.Fatal("delivery reported failure")
	}
	msg := readPush(t, conn)
	if msg.Command != protocol.PushSnippet {
		t.Errorf("command = %q, want push_snippet", msg.Command)
	}
}

func TestNoActiveTabDropsPush(t *testing.T) {
	h := newHarness(t)
	// A connection without a registered tab is not a delivery target.
	h.connectTab(t, "")

	if h.relay.Snippet(protocol.SnippetPayload{Text: "dropped"}) {
		t.Error("delivery reported success with no active tab")
	}
}
