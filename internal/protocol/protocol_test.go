package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		wantKind string // expected error kind, empty means no error
		wantID   string // expected recovered messageId
	}{
		{
			name:   "valid request",
			input:  []byte(`{"protocolVersion":"1.0","messageId":"m1","type":"request","command":"ping"}`),
			wantID: "m1",
		},
		{
			name:   "valid push with payload",
			input:  []byte(`{"protocolVersion":"1.0","messageId":"m2","type":"push","command":"push_snippet","payload":{"text":"x"}}`),
			wantID: "m2",
		},
		{
			name:     "not json",
			input:    []byte(`{nope`),
			wantKind: KindInvalidMessageFormat,
		},
		{
			name:     "missing messageId",
			input:    []byte(`{"protocolVersion":"1.0","type":"request","command":"ping"}`),
			wantKind: KindInvalidMessageFormat,
		},
		{
			name:     "missing command",
			input:    []byte(`{"protocolVersion":"1.0","messageId":"m3","type":"request"}`),
			wantKind: KindInvalidMessageFormat,
			wantID:   "m3",
		},
		{
			name:     "unknown type",
			input:    []byte(`{"protocolVersion":"1.0","messageId":"m4","type":"telegram","command":"ping"}`),
			wantKind: KindInvalidMessageFormat,
			wantID:   "m4",
		},
		{
			name:     "wrong version",
			input:    []byte(`{"protocolVersion":"0.9","messageId":"m5","type":"request","command":"ping"}`),
			wantKind: KindUnsupportedProtocolVersion,
			wantID:   "m5",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode(tt.input)
			if tt.wantKind == "" {
				if err != nil {
					t.Fatalf("Decode() unexpected error: %v", err)
				}
			} else {
				var pe *Error
				if !errors.As(err, &pe) {
					t.Fatalf("Decode() error = %v, want *Error", err)
				}
				if pe.Kind != tt.wantKind {
					t.Errorf("Decode() error kind = %s, want %s", pe.Kind, tt.wantKind)
				}
			}
			if msg.MessageID != tt.wantID {
				t.Errorf("Decode() recovered messageId = %q, want %q", msg.MessageID, tt.wantID)
			}
		})
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	req, err := NewRequest(CmdSearchWorkspace, SearchPayload{Query: "foo"})
	if err != nil {
		t.Fatalf("NewRequest() error: %v", err)
	}
	if req.MessageID == "" {
		t.Fatal("NewRequest() did not assign a messageId")
	}

	data, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error: %v", err)
	}
	if got.MessageID != req.MessageID || got.Type != TypeRequest || got.Command != CmdSearchWorkspace {
		t.Errorf("round trip mismatch: %+v", got)
	}

	var payload SearchPayload
	if err := json.Unmarshal(got.Payload, &payload); err != nil {
		t.Fatalf("payload unmarshal: %v", err)
	}
	if payload.Query != "foo" {
		t.Errorf("payload query = %q, want foo", payload.Query)
	}
}

func TestNewResponseCarriesRequestID(t *testing.T) {
	req, _ := NewRequest(CmdPing, nil)
	resp, err := NewResponse(req.MessageID, req.Command, ResultPayload{Success: true})
	if err != nil {
		t.Fatalf("NewResponse() error: %v", err)
	}
	if resp.MessageID != req.MessageID {
		t.Errorf("response messageId = %q, want %q", resp.MessageID, req.MessageID)
	}
	if resp.Command != "pong" {
		t.Errorf("response command = %q, want pong", resp.Command)
	}
}

func TestNewPushFreshID(t *testing.T) {
	a, _ := NewPush(PushSnippet, SnippetPayload{Text: "x"})
	b, _ := NewPush(PushSnippet, SnippetPayload{Text: "x"})
	if a.MessageID == b.MessageID {
		t.Error("pushes must carry fresh message ids")
	}
	if a.Type != TypePush {
		t.Errorf("push type = %s", a.Type)
	}
}

func TestResponseCommand(t *testing.T) {
	tests := []struct {
		command string
		want    string
	}{
		{CmdSearchWorkspace, "search_workspace_result"},
		{CmdGetFileTree, "file_tree_result"},
		{CmdGetFileContent, "file_content_result"},
		{CmdGetDiagnostics, "diagnostics_result"},
		{CmdPing, "pong"},
		{"custom_thing", "response_custom_thing"},
	}
	for _, tt := range tests {
		if got := ResponseCommand(tt.command); got != tt.want {
			t.Errorf("ResponseCommand(%s) = %s, want %s", tt.command, got, tt.want)
		}
	}
}

func TestIsWorkspaceScoped(t *testing.T) {
	if !IsWorkspaceScoped(CmdSearchWorkspace) {
		t.Error("search_workspace should be workspace scoped")
	}
	if IsWorkspaceScoped(CmdGetFileContent) {
		t.Error("get_file_content targets a single window")
	}
}

func TestErrorKind(t *testing.T) {
	if got := ErrorKind(NewError(KindFileNotFound, "nope")); got != KindFileNotFound {
		t.Errorf("ErrorKind() = %s, want %s", got, KindFileNotFound)
	}
	if got := ErrorKind(errors.New("boom")); got != KindCommandExecutionError {
		t.Errorf("ErrorKind() = %s, want %s", got, KindCommandExecutionError)
	}
}
