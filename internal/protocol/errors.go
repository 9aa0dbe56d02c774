package protocol

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed response.
type ErrorCode string

const (
	// CodeContentScriptError is an uncaught failure while handling a request.
	CodeContentScriptError ErrorCode = "CONTENT_SCRIPT_ERROR"
	// CodeNotImplemented marks a capability the active site does not have.
	CodeNotImplemented ErrorCode = "NOT_IMPLEMENTED"
	// CodeUnknownMessageType is protocol misuse by the caller.
	CodeUnknownMessageType ErrorCode = "UNKNOWN_MESSAGE_TYPE"
	// CodeInvalidPayload means the request data did not decode.
	CodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"
	// CodeAdapterDestroyed means the request reached a torn-down adapter.
	CodeAdapterDestroyed ErrorCode = "ADAPTER_DESTROYED"
)

// RemoteError is a failed response surfaced on the requesting side.
type RemoteError struct {
	Code    ErrorCode
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a RemoteError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code == code
	}
	return false
}
