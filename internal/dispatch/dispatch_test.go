package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/parvum/devlink/internal/protocol"
)

type fakeWorkspace struct {
	open    bool
	trusted bool
}

func (f *fakeWorkspace) IsOpen() bool    { return f.open }
func (f *fakeWorkspace) IsTrusted() bool { return f.trusted }

func request(t *testing.T, command string, payload any) protocol.Message {
	t.Helper()
	msg, err := protocol.NewRequest(command, payload)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	return msg
}

func decodeError(t *testing.T, msg protocol.Message) protocol.ErrorPayload {
	t.Helper()
	if msg.Type != protocol.TypeErrorResponse {
		t.Fatalf("expected error_response, got %s", msg.Type)
	}
	var ep protocol.ErrorPayload
	if err := json.Unmarshal(msg.Payload, &ep); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	return ep
}

func TestDispatchSuccess(t *testing.T) {
	d := New(nil, nil)
	d.Register("echo", func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error) {
		var data map[string]string
		if err := json.Unmarshal(payload, &data); err != nil {
			return nil, err
		}
		return data, nil
	})

	req := request(t, "echo", map[string]string{"hello": "world"})
	resp := d.Dispatch(context.Background(), req, nil)

	if resp.Type != protocol.TypeResponse {
		t.Fatalf("type = %s, want response", resp.Type)
	}
	if resp.MessageID != req.MessageID {
		t.Errorf("messageId = %q, want %q", resp.MessageID, req.MessageID)
	}
	if resp.Command != "response_echo" {
		t.Errorf("command = %q, want response_echo", resp.Command)
	}

	var result protocol.ResultPayload
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatal(err)
	}
	if !result.Success {
		t.Error("result should be successful")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := New(nil, nil)
	resp := d.Dispatch(context.Background(), request(t, "nope", nil), nil)
	if ep := decodeError(t, resp); ep.Code != protocol.KindUnknownCommand {
		t.Errorf("code = %s, want %s", ep.Code, protocol.KindUnknownCommand)
	}
}

func TestDispatchHandlerError(t *testing.T) {
	d := New(nil, nil)
	d.Register("boom", func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error) {
		return nil, errors.New("kaput")
	})
	d.Register("missing", func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error) {
		return nil, protocol.NewError(protocol.KindFileNotFound, "no such file")
	})

	resp := d.Dispatch(context.Background(), request(t, "boom", nil), nil)
	if ep := decodeError(t, resp); ep.Code != protocol.KindCommandExecutionError {
		t.Errorf("plain error should map to COMMAND_EXECUTION_ERROR, got %s", ep.Code)
	}

	resp = d.Dispatch(context.Background(), request(t, "missing", nil), nil)
	if ep := decodeError(t, resp); ep.Code != protocol.KindFileNotFound {
		t.Errorf("typed error kind lost: got %s", ep.Code)
	}
}

func TestDispatchHandlerPanicIsCaught(t *testing.T) {
	d := New(nil, nil)
	d.Register("panic", func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error) {
		panic("surprise")
	})

	resp := d.Dispatch(context.Background(), request(t, "panic", nil), nil)
	if ep := decodeError(t, resp); ep.Code != protocol.KindCommandExecutionError {
		t.Errorf("code = %s, want %s", ep.Code, protocol.KindCommandExecutionError)
	}
}

func TestDispatchWorkspacePrecondition(t *testing.T) {
	ws := &fakeWorkspace{}
	d := New(ws, nil)
	called := false
	d.RegisterWorkspaceCommand(protocol.CmdSearchWorkspace, func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error) {
		called = true
		return protocol.SearchResult{}, nil
	})

	// No workspace open.
	resp := d.Dispatch(context.Background(), request(t, protocol.CmdSearchWorkspace, nil), nil)
	if ep := decodeError(t, resp); ep.Code != protocol.KindNoWorkspaceOpen {
		t.Errorf("code = %s, want %s", ep.Code, protocol.KindNoWorkspaceOpen)
	}

	// Open but untrusted.
	ws.open = true
	resp = d.Dispatch(context.Background(), request(t, protocol.CmdSearchWorkspace, nil), nil)
	if ep := decodeError(t, resp); ep.Code != protocol.KindWorkspaceNotTrusted {
		t.Errorf("code = %s, want %s", ep.Code, protocol.KindWorkspaceNotTrusted)
	}
	if called {
		t.Fatal("handler must not run while the precondition is unmet")
	}

	// Open and trusted.
	ws.trusted = true
	resp = d.Dispatch(context.Background(), request(t, protocol.CmdSearchWorkspace, nil), nil)
	if resp.Type != protocol.TypeResponse {
		t.Fatalf("type = %s, want response", resp.Type)
	}
	if !called {
		t.Error("handler should run once the precondition holds")
	}
}

func TestDispatchRejectsNonRequest(t *testing.T) {
	d := New(nil, nil)
	push, _ := protocol.NewPush(protocol.PushSnippet, nil)
	resp := d.Dispatch(context.Background(), push, nil)
	if ep := decodeError(t, resp); ep.Code != protocol.KindInvalidMessageFormat {
		t.Errorf("code = %s, want %s", ep.Code, protocol.KindInvalidMessageFormat)
	}
}

func TestRegisterReplacesHandler(t *testing.T) {
	d := New(nil, nil)
	d.Register("cmd", func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error) {
		return map[string]int{"v": 1}, nil
	})
	d.Register("cmd", func(ctx context.Context, payload json.RawMessage, client *ClientContext) (any, error) {
		return map[string]int{"v": 2}, nil
	})

	resp := d.Dispatch(context.Background(), request(t, "cmd", nil), nil)
	var result protocol.ResultPayload
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatal(err)
	}
	var data map[string]int
	if err := json.Unmarshal(result.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["v"] != 2 {
		t.Errorf("v = %d, want 2 (second registration should win)", data["v"])
	}
}
