// Package protocol defines the wire envelope shared by every devlink peer:
// browser clients, window processes, and the CLI.
//
// # Wire Protocol Overview
//
// Every frame carries exactly one JSON-encoded Message. There is no
// multiplexing within a frame. The envelope is:
//
//	{
//	    "protocolVersion": "1.0",
//	    "messageId": "…",
//	    "type": "request" | "response" | "error_response" | "push",
//	    "command": "…",
//	    "payload": { ... }  // Optional, command-specific
//	}
//
// Responses and error responses carry the messageId of the request they
// answer. Pushes carry a fresh messageId and expect no answer.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Version is the single protocol version this build speaks.
// Frames with any other version are rejected.
const Version = "1.0"

// MessageType identifies the role of a frame in the protocol.
type MessageType string

const (
	// TypeRequest expects exactly one response or error_response.
	TypeRequest MessageType = "request"
	// TypeResponse answers a request, carrying its messageId.
	TypeResponse MessageType = "response"
	// TypeErrorResponse answers a request that failed, carrying its messageId.
	TypeErrorResponse MessageType = "error_response"
	// TypePush is an out-of-band notification with no expected answer.
	TypePush MessageType = "push"
)

// Message is the wire unit exchanged between peers.
type Message struct {
	ProtocolVersion string          `json:"protocolVersion"`
	MessageID       string          `json:"messageId"`
	Type            MessageType     `json:"type"`
	Command         string          `json:"command"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// NewMessageID returns a fresh opaque message id.
func NewMessageID() string {
	return uuid.NewString()
}

// NewRequest builds a request envelope with a fresh message id.
// payload may be nil.
func NewRequest(command string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ProtocolVersion: Version,
		MessageID:       NewMessageID(),
		Type:            TypeRequest,
		Command:         command,
		Payload:         raw,
	}, nil
}

// NewResponse builds a response envelope answering the given request id.
// The command is resolved through the response-name table.
func NewResponse(requestID, requestCommand string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ProtocolVersion: Version,
		MessageID:       requestID,
		Type:            TypeResponse,
		Command:         ResponseCommand(requestCommand),
		Payload:         raw,
	}, nil
}

// NewErrorResponse builds an error_response answering the given request id.
func NewErrorResponse(requestID, requestCommand, kind, message string) Message {
	raw, _ := json.Marshal(ErrorPayload{Code: kind, Message: message})
	return Message{
		ProtocolVersion: Version,
		MessageID:       requestID,
		Type:            TypeErrorResponse,
		Command:         ResponseCommand(requestCommand),
		Payload:         raw,
	}
}

// NewPush builds a push envelope with a fresh message id.
func NewPush(command string, payload any) (Message, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{
		ProtocolVersion: Version,
		MessageID:       NewMessageID(),
		Type:            TypePush,
		Command:         command,
		Payload:         raw,
	}, nil
}

// Encode serializes a message to a single text frame.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses and validates a single frame.
//
// On failure the returned error is a *Error with kind
// INVALID_MESSAGE_FORMAT or UNSUPPORTED_PROTOCOL_VERSION. The returned
// Message carries whatever fields could be recovered (in particular the
// messageId, when present) so the caller can address an error_response
// back to the sender.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, NewError(KindInvalidMessageFormat, "frame is not valid JSON")
	}
	if msg.ProtocolVersion == "" || msg.MessageID == "" || msg.Type == "" || msg.Command == "" {
		return msg, NewError(KindInvalidMessageFormat,
			"frame is missing one of protocolVersion, messageId, type, command")
	}
	switch msg.Type {
	case TypeRequest, TypeResponse, TypeErrorResponse, TypePush:
	default:
		return msg, NewError(KindInvalidMessageFormat,
			fmt.Sprintf("unknown message type %q", msg.Type))
	}
	if msg.ProtocolVersion != Version {
		return msg, NewError(KindUnsupportedProtocolVersion,
			fmt.Sprintf("protocol version %q is not supported (want %q)", msg.ProtocolVersion, Version))
	}
	return msg, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return raw, nil
}
