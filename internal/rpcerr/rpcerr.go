// Package rpcerr defines the domain-level error type returned to RPC
// callers, and the small set of sentinel messages the node layer and
// handlers use.
package rpcerr

import "fmt"

// RpcError is the error shape carried over the wire as
// {"error":{"message":..., "data":...}}. It is also the type every handler
// returns to signal a domain failure rather than an internal one.
type RpcError struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RpcError) Error() string {
	return e.Message
}

// New builds an RpcError with optional structured data.
func New(message string, data any) *RpcError {
	return &RpcError{Message: message, Data: data}
}

// WrongHash is returned when an inbound entity's recomputed hash does not
// match the hash it was encoded with.
func WrongHash() *RpcError { return New("wrong hash", nil) }

// WrongSignature is returned when a transaction's signature fails
// verification against the endorser's public key.
func WrongSignature() *RpcError { return New("wrong signature", nil) }

// BadRequest wraps a validation failure of input shape or semantics (e.g.
// non-positive amount, unknown account, insufficient balance, conflicting
// mutation).
func BadRequest(msg string) *RpcError { return New(fmt.Sprintf("bad request: %s", msg), nil) }

// Internal is returned for any handler failure that is not a recognized
// domain error; the underlying cause is logged, never echoed to the caller.
func Internal() *RpcError { return New("internal server error", nil) }

// NotSupported is returned by the router when no handler is registered for
// a method.
func NotSupported(method string) *RpcError {
	return New(fmt.Sprintf("%s not supported", method), nil)
}
