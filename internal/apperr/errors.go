// Package apperr defines the error taxonomy shared by the filter runtime and
// the service layer on top of it.
package apperr

import (
	"errors"
	"fmt"
)

// Service-level errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalid       = errors.New("invalid input")
)

// Runtime errors.
var (
	// ErrModuleNotFound is returned when ranking produced no usable
	// candidate. Callers may retry with different criteria.
	ErrModuleNotFound = errors.New("module not found")

	// ErrIncompatibleConnector is returned when a plug and a socket cannot be
	// bound. Inspect *ConnectError for the precise reason.
	ErrIncompatibleConnector = errors.New("incompatible connector")

	// ErrAlreadyBound is returned when binding a plug that already holds a
	// socket. It also matches ErrIncompatibleConnector.
	ErrAlreadyBound = errors.New("plug already bound")

	// ErrIncompleteGraph is returned when a mandatory plug is unbound at
	// context build time.
	ErrIncompleteGraph = errors.New("incomplete graph")

	// ErrContextBuildFailed wraps a module-reported context build error.
	ErrContextBuildFailed = errors.New("context build failed")

	// ErrExecution is returned when a run call reports a status > 0.
	ErrExecution = errors.New("execution error")

	// ErrCacheMiss is a control-flow signal, not a failure.
	ErrCacheMiss = errors.New("cache miss")

	// ErrReleased is returned when operating on a released node.
	ErrReleased = errors.New("object released")
)

// ConnectReason names the check that rejected a connection.
type ConnectReason int

const (
	ReasonTypeMismatch ConnectReason = iota + 1
	ReasonDataTypeMismatch
	ReasonCardinalityExceeded
	ReasonDirection
	ReasonAlreadyBound
)

func (r ConnectReason) String() string {
	switch r {
	case ReasonTypeMismatch:
		return "type mismatch"
	case ReasonDataTypeMismatch:
		return "data type mismatch"
	case ReasonCardinalityExceeded:
		return "cardinality exceeded"
	case ReasonDirection:
		return "direction mismatch"
	case ReasonAlreadyBound:
		return "already bound"
	default:
		return "unknown"
	}
}

// ConnectError reports why a plug could not be bound to a socket.
type ConnectError struct {
	Reason ConnectReason
	Plug   string
	Socket string
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s -> %s: %s", e.Socket, e.Plug, e.Reason)
}

// Is makes ConnectError match ErrIncompatibleConnector, and ErrAlreadyBound
// when the plug was occupied.
func (e *ConnectError) Is(target error) bool {
	if target == ErrIncompatibleConnector {
		return true
	}
	return target == ErrAlreadyBound && e.Reason == ReasonAlreadyBound
}

// NodeError adds the failing node's identity to an error without altering
// the original.
type NodeError struct {
	Node string
	Op   string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.Node, e.Op, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// ExecError carries the status code a module returned from a run call.
type ExecError struct {
	Node string
	Code int
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("node %s: run returned status %d", e.Node, e.Code)
}

func (e *ExecError) Is(target error) bool { return target == ErrExecution }
