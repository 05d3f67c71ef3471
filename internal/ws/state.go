package ws

import (
	"errors"
	"fmt"
)

// StateKind enumerates the phases of a Channel.
type StateKind int

const (
	Idle StateKind = iota
	Connecting
	Open
	Closed
	Failed
)

var allStates = []string{"idle", "connecting", "open", "closed", "failed"}

func (k StateKind) String() string {
	if k < Idle || k > Failed {
		return "unknown"
	}
	return allStates[k]
}

// ConnectionState is the observable state of a Channel. Reason is only set
// for Failed.
type ConnectionState struct {
	Kind   StateKind
	Reason error
}

func (s ConnectionState) String() string {
	if s.Kind == Failed && s.Reason != nil {
		return fmt.Sprintf("failed(%v)", s.Reason)
	}
	return s.Kind.String()
}

var (
	ErrHandshakeFailed     = errors.New("handshake failed")
	ErrMaxAttemptsExceeded = errors.New("max reconnection attempts exceeded")
	ErrNotOpen             = errors.New("channel is not open")
	ErrSendBufferFull      = errors.New("send buffer full")
	ErrClosed              = errors.New("channel closed")
)

// ConnectError reports a failed connection attempt. Kind is
// ErrHandshakeFailed or ErrMaxAttemptsExceeded.
type ConnectError struct {
	Kind    error
	Attempt int
	Status  int // HTTP status of a rejected upgrade, 0 if none
	Err     error
}

func (e *ConnectError) Error() string {
	msg := e.Kind.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ConnectError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Lifecycle topics published on the channel's bus next to inbound message
// types.
const (
	EventStateChange        = "connection:state"
	EventReconnectionNeeded = "reconnection_needed"
	EventConnectionFailed   = "connection_failed"
)

// ReconnectionNeeded is published when an automatic attempt starts.
type ReconnectionNeeded struct {
	Attempt int
}

// ConnectionFailed is published when retries are exhausted.
type ConnectionFailed struct {
	Reason string
}
