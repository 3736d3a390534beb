// © Copyright 2026, Gridpoint Labs
// SPDX-License-Identifier: Apache-2.0

package cqrpc

import "fmt"

// Code is an RPC status code.
type Code int

const (
	CodeOK Code = iota
	CodeCancelled
	CodeUnknown
	CodeInvalidArgument
	CodeNotFound
	CodeUnimplemented
	CodeInternal
	CodeUnavailable
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeCancelled:
		return "CANCELLED"
	case CodeUnknown:
		return "UNKNOWN"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeUnimplemented:
		return "UNIMPLEMENTED"
	case CodeInternal:
		return "INTERNAL"
	case CodeUnavailable:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("CODE(%d)", int(c))
	}
}

// Status is the final disposition of an RPC, carried to the peer on the
// wire and delivered to client reactors in OnDone.
type Status struct {
	code    Code
	message string
}

// StatusOK is the zero Status.
var StatusOK = Status{}

// NewStatus creates a Status with the given code and message.
func NewStatus(code Code, message string) Status {
	return Status{code: code, message: message}
}

// Code returns the status code.
func (s Status) Code() Code { return s.code }

// Message returns the status message, empty for OK.
func (s Status) Message() string { return s.message }

// OK reports whether the status code is CodeOK.
func (s Status) OK() bool { return s.code == CodeOK }

// Err returns nil for an OK status and a *StatusError otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &StatusError{status: s}
}

func (s Status) String() string {
	if s.OK() {
		return "OK"
	}
	return fmt.Sprintf("%s: %s", s.code, s.message)
}

// StatusError is a non-OK Status as an error.
type StatusError struct {
	status Status
}

func (e *StatusError) Error() string { return e.status.String() }

// Status returns the underlying status.
func (e *StatusError) Status() Status { return e.status }

// Is supports errors.Is by matching any *StatusError target.
func (e *StatusError) Is(target error) bool {
	_, ok := target.(*StatusError)
	return ok
}

// statusFromError maps a handler error to a Status. A *StatusError passes
// through unchanged; anything else becomes CodeUnknown.
func statusFromError(err error) Status {
	if err == nil {
		return StatusOK
	}
	if se, ok := err.(*StatusError); ok {
		return se.status
	}
	return NewStatus(CodeUnknown, err.Error())
}
