package protocol

// Stable error kinds surfaced to callers. The code travels in the
// error_response payload so the browser side can branch on it without
// parsing the human-readable message.
const (
	KindInvalidMessageFormat       = "INVALID_MESSAGE_FORMAT"
	KindUnsupportedProtocolVersion = "UNSUPPORTED_PROTOCOL_VERSION"
	KindUnknownCommand             = "UNKNOWN_COMMAND"
	KindCommandExecutionError      = "COMMAND_EXECUTION_ERROR"
	KindWorkspaceNotTrusted        = "WORKSPACE_NOT_TRUSTED"
	KindNoWorkspaceOpen            = "NO_WORKSPACE_OPEN"
	KindFileNotFound               = "FILE_NOT_FOUND"
	KindNotConnected               = "NOT_CONNECTED"
	KindRequestTimeout             = "REQUEST_TIMEOUT"
)

// Error is a typed protocol error carrying a stable machine-readable kind
// and a human-readable message. It travels as an ErrorPayload on the wire.
type Error struct {
	Kind    string
	Message string
}

// NewError creates a typed protocol error.
func NewError(kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	return e.Kind + ": " + e.Message
}

// ErrorKind extracts the stable kind from an error, if it is a protocol
// error. Any other error maps to COMMAND_EXECUTION_ERROR.
func ErrorKind(err error) string {
	if pe, ok := err.(*Error); ok {
		return pe.Kind
	}
	return KindCommandExecutionError
}
