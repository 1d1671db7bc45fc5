package sio

import (
	"fmt"
	"strings"
)

// TimeoutError reports that a single blocking I/O call exceeded the fixed
// deadline. It is recoverable: the caller's poll loop typically retries.
type TimeoutError struct {
	Op    string
	cause error
}

func (e *TimeoutError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s timed out: %s", e.Op, e.cause)
	}
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.cause }

// Timeout lets the error satisfy net.Error style checks.
func (e *TimeoutError) Timeout() bool { return true }

// ConnectionError reports a socket-level failure, a non-200 HTTP status,
// a closed connection, or a failed TLS negotiation. Recovering generally
// means renegotiating a transport.
type ConnectionError struct {
	Detail string
	Status int
	cause  error
}

func (e *ConnectionError) Error() string {
	switch {
	case e.Detail != "" && e.cause != nil:
		return fmt.Sprintf("%s (%s)", e.Detail, e.cause)
	case e.Detail != "":
		return e.Detail
	case e.cause != nil:
		return e.cause.Error()
	}
	return "connection error"
}

func (e *ConnectionError) Unwrap() error { return e.cause }

func unexpectedStatus(status int) *ConnectionError {
	return &ConnectionError{
		Detail: fmt.Sprintf("unexpected status code (%d)", status),
		Status: status,
	}
}

// ProtocolError reports well-formed I/O that carried unexpected content:
// an unparseable JSONP wrapper or an acknowledgment for an unknown id.
// Malformed packets inside a receive batch are logged and skipped instead.
type ProtocolError struct {
	Detail string
	Text   string
	cause  error
}

func (e *ProtocolError) Error() string {
	if e.Text != "" {
		return fmt.Sprintf("%s: %q", e.Detail, e.Text)
	}
	return e.Detail
}

func (e *ProtocolError) Unwrap() error { return e.cause }

// NegotiationError reports that no transport is supported by both sides.
// Its message carries both lists; callers and tests rely on that.
type NegotiationError struct {
	Client []string
	Server []string
}

func (e *NegotiationError) Error() string {
	return fmt.Sprintf(
		"could not negotiate a transport: client supports %s but server supports %s",
		strings.Join(e.Client, ", "), strings.Join(e.Server, ", "))
}
