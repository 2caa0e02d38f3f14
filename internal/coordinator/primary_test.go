package coordinator

import (
	"testing"
	"time"

	"github.com/parvum/devlink/internal/dispatch"
	"github.com/parvum/devlink/internal/logging"
	"github.com/parvum/devlink/internal/protocol"
	"github.com/parvum/devlink/internal/server"
)

func newTestPrimary(t *testing.T) (*Primary, *Registry, *Aggregator) {
	t.Helper()
	registry := NewRegistry(4)
	aggregator := NewAggregator(time.Hour, logging.Coordinator())
	t.Cleanup(aggregator.Close)
	p := NewPrimary("window-p", dispatch.New(nil, nil), registry, aggregator, logging.Coordinator())
	return p, registry, aggregator
}

func registerPeer(t *testing.T, registry *Registry, windowID, connID string) *server.Client {
	t.Helper()
	conn := &server.Client{ID: connID}
	conn.SetWindowID(windowID)
	if err := registry.Register(windowID, 0, conn); err != nil {
		t.Fatalf("Register(%s): %v", windowID, err)
	}
	return conn
}

func TestDisconnectOfReplacedSocketKeepsRegistration(t *testing.T) {
	p, registry, _ := newTestPrimary(t)

	// A Secondary restarts with the same window id and re-registers on a
	// new socket while the old one is still draining.
	oldConn := registerPeer(t, registry, "w1", "conn-old")
	newConn := registerPeer(t, registry, "w1", "conn-new")

	p.OnDisconnect(oldConn)
	if got := registry.Len(); got != 1 {
		t.Fatalf("stale socket's close wiped the fresh registration: len = %d, want 1", got)
	}

	p.OnDisconnect(newConn)
	if got := registry.Len(); got != 0 {
		t.Fatalf("owning socket's close should unregister: len = %d, want 0", got)
	}
}

func TestDisconnectOfReplacedSocketLeavesAggregationsWaiting(t *testing.T) {
	p, registry, aggregator := newTestPrimary(t)

	oldConn := registerPeer(t, registry, "w1", "conn-old")
	registerPeer(t, registry, "w1", "conn-new")

	done := make(chan []Contribution, 1)
	id := aggregator.Start(protocol.CmdSearchWorkspace,
		Contribution{WindowID: "window-p"}, []string{"w1"},
		func(results []Contribution) { done <- results })

	p.OnDisconnect(oldConn)
	select {
	case <-done:
		t.Fatal("stale socket's close must not complete the aggregation")
	case <-time.After(50 * time.Millisecond):
	}

	aggregator.Deliver(id, "w1", nil, "")
	select {
	case results := <-done:
		for _, r := range results {
			if r.WindowID == "w1" && r.Err != "" {
				t.Errorf("live window reported as failed: %+v", r)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("aggregation never completed after the live window answered")
	}
}

func TestUnregisterCompletesWaitingAggregations(t *testing.T) {
	p, registry, aggregator := newTestPrimary(t)
	conn := registerPeer(t, registry, "w1", "conn-1")

	done := make(chan []Contribution, 1)
	aggregator.Start(protocol.CmdSearchWorkspace,
		Contribution{WindowID: "window-p"}, []string{"w1"},
		func(results []Contribution) { done <- results })

	msg, err := protocol.NewRequest(protocol.CmdUnregisterSecondary,
		protocol.UnregisterSecondaryPayload{WindowID: "w1"})
	if err != nil {
		t.Fatal(err)
	}
	p.OnRequest(conn, msg)

	select {
	case results := <-done:
		var departed *Contribution
		for i := range results {
			if results[i].WindowID == "w1" {
				departed = &results[i]
			}
		}
		if departed == nil || departed.Err == "" {
			t.Errorf("departed window not reported as an error: %+v", results)
		}
	case <-time.After(time.Second):
		t.Fatal("aggregation still waiting after the window unregistered")
	}
	if got := registry.Len(); got != 0 {
		t.Errorf("registry len = %d, want 0", got)
	}
}
