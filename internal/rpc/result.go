package rpc

import (
	"errors"
	"fmt"
)

// Status tags the outcome of a call.
type Status int

const (
	// StatusOK means the remote answered with a result.
	StatusOK Status = iota
	// StatusTimedOut means no correlated answer arrived in time.
	StatusTimedOut
	// StatusFailed means the call could not complete or the remote returned an error.
	StatusFailed
)

// String returns the status name used in logs and metrics.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimedOut:
		return "timed_out"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrTimeout wraps every timed out call.
	ErrTimeout = errors.New("rpc: call timed out")

	// ErrClosed is reported for calls on a closed peer.
	ErrClosed = errors.New("rpc: peer closed")
)

// Result is the tagged outcome of Peer.Call.
type Result struct {
	Method string
	Status Status
	Err    error
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Status == StatusOK
}

// TimedOut reports whether the call timed out.
func (r Result) TimedOut() bool {
	return r.Status == StatusTimedOut
}

// AsError returns nil for a successful call and a descriptive error otherwise.
func (r Result) AsError() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusTimedOut:
		return fmt.Errorf("rpc %s: %w", r.Method, ErrTimeout)
	default:
		if r.Err == nil {
			return fmt.Errorf("rpc %s: failed", r.Method)
		}
		return fmt.Errorf("rpc %s: %w", r.Method, r.Err)
	}
}

// RemoteError is an error returned by the other side of the channel.
type RemoteError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Stack   string `json:"stack,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

func ok(method string) Result {
	return Result{Method: method, Status: StatusOK}
}

func timedOut(method string) Result {
	return Result{Method: method, Status: StatusTimedOut, Err: ErrTimeout}
}

func failed(method string, err error) Result {
	return Result{Method: method, Status: StatusFailed, Err: err}
}
