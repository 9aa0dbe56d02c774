// Package protocol defines the request/response messages exchanged between the
// background context and the per-page chat adapters.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageKind identifies what a request asks for.
type MessageKind string

const (
	KindGetPageInfo        MessageKind = "GET_PAGE_INFO"
	KindExportConversation MessageKind = "EXPORT_CONVERSATION"
	KindInsertText         MessageKind = "INSERT_TEXT"

	// One-way events. No response is ever produced for these.
	KindSyncData           MessageKind = "SYNC_DATA"
	KindContentScriptReady MessageKind = "CONTENT_SCRIPT_READY"
)

// IsEvent reports whether messages of this kind are fire-and-forget.
func (k MessageKind) IsEvent() bool {
	return k == KindSyncData || k == KindContentScriptReady
}

// Message is a request or event. RequestID is generated by the sender and must be
// echoed verbatim by the receiver.
type Message struct {
	Type      MessageKind     `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId"`
	Timestamp int64           `json:"timestamp"`
}

// Response answers exactly one Message.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     *ErrorInfo      `json:"error,omitempty"`
	RequestID string          `json:"requestId"`
	Timestamp int64           `json:"timestamp"`
}

// ErrorInfo is the error body of a failed response.
type ErrorInfo struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return uuid.NewString()
}

// Now returns the protocol timestamp for the current instant.
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewMessage builds a message with a fresh request id. A nil payload leaves Data empty.
func NewMessage(kind MessageKind, payload any) (Message, error) {
	msg := Message{
		Type:      kind,
		RequestID: NewRequestID(),
		Timestamp: Now(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// Decode unmarshals the message data into v. Empty data leaves v untouched.
func (m Message) Decode(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Succeed builds a successful response to req carrying v.
func Succeed(req Message, v any) Response {
	resp := Response{
		Success:   true,
		RequestID: req.RequestID,
		Timestamp: Now(),
	}
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return Fail(req, CodeContentScriptError, fmt.Sprintf("failed to encode response: %v", err))
		}
		resp.Data = data
	}
	return resp
}

// Fail builds a failed response to req.
func Fail(req Message, code ErrorCode, message string) Response {
	return Response{
		Success:   false,
		Error:     &ErrorInfo{Code: code, Message: message},
		RequestID: req.RequestID,
		Timestamp: Now(),
	}
}

// Decode unmarshals the response data into v. A failed response is returned as a
// *RemoteError.
func (r Response) Decode(v any) error {
	if !r.Success {
		return r.Err()
	}
	if len(r.Data) == 0 || v == nil {
		return nil
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response %s: %w", r.RequestID, err)
	}
	return nil
}

// Err returns the response failure as an error, or nil on success.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == nil {
		return &RemoteError{Code: CodeContentScriptError, Message: "request failed without error details"}
	}
	return &RemoteError{Code: r.Error.Code, Message: r.Error.Message}
}
