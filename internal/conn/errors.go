package conn

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by Send unless the state is Connected.
	ErrNotConnected = errors.New("conn: not connected")
	// ErrInvalidState is returned by Retry unless the state is Failed.
	ErrInvalidState = errors.New("conn: invalid state")
	// ErrExhausted wraps the last dial error once the retry budget is spent.
	ErrExhausted = errors.New("conn: reconnect attempts exhausted")
)

// TransportError is a dial, read or write failure. The reconnect policy
// retries these.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("conn: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is an explicit rejection by the server. It is fatal for
// the connection attempt and never retried automatically.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "conn: protocol error: " + e.Reason
}

// IsProtocol reports whether err is, or wraps, a ProtocolError.
func IsProtocol(err error) bool {
	var perr *ProtocolError
	return errors.As(err, &perr)
}
