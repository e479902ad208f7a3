// Package gateway holds the capability registries (tools, resources,
// prompts) and the transport-agnostic protocol dispatcher that serves them.
package gateway

import (
	"fmt"

	"github.com/companionhq/companion-gateway/internal/bridge"
)

// Code identifies an error kind on the wire. Codes are stable strings so
// clients can branch on them programmatically.
type Code string

const (
	CodeParseError           Code = "ParseError"
	CodeMethodNotFound       Code = "MethodNotFound"
	CodeInvalidParameters    Code = "InvalidParameters"
	CodeResourceNotFound     Code = "ResourceNotFound"
	CodePromptNotFound       Code = "PromptNotFound"
	CodeMissingArgument      Code = "MissingArgument"
	CodeBackendUnavailable   Code = "BackendUnavailable"
	CodeBackendRejected      Code = "BackendRejected"
	CodeBackendProtocolError Code = "BackendProtocolError"
)

// Error is the structured error carried in protocol error responses.
// Registries return it directly; the dispatcher wraps it into the envelope
// without re-interpreting the code.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// wrapBridgeError converts a bridge error into a protocol error. The kind
// maps one-to-one onto the wire code; only the message is reshaped.
func wrapBridgeError(err *bridge.Error) *Error {
	return &Error{Code: Code(err.Kind), Message: err.Message}
}
