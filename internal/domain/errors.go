package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to one of these.
var (
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrProtocol          = errors.New("protocol error")
	ErrInfrastructure    = errors.New("infrastructure error")
	ErrConflict          = errors.New("conflict")
	ErrInvalid           = errors.New("invalid")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// NotFoundError reports a missing agent type, tool, session or assignment.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a *NotFoundError.
func NotFound(kind, key string) error {
	return &NotFoundError{Kind: kind, Key: key}
}

// PermissionDeniedError reports a tool call rejected by the assignment rules.
type PermissionDeniedError struct {
	Tool   string
	Reason string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("tool %q denied: %s", e.Tool, e.Reason)
}

func (e *PermissionDeniedError) Unwrap() error { return ErrPermissionDenied }

// ProtocolError reports a malformed or out-of-order client event.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "protocol: " + e.Reason
}

func (e *ProtocolError) Unwrap() error { return ErrProtocol }

// Protocolf builds a *ProtocolError with a formatted reason.
func Protocolf(format string, args ...any) error {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

// InfrastructureError wraps a storage or sink failure. Its message is for
// logs only; clients get a generic text.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() []error { return []error{ErrInfrastructure, e.Err} }

// Infrastructure wraps err as an *InfrastructureError. A nil err stays nil.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	var ie *InfrastructureError
	if errors.As(err, &ie) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// Invalidf builds an error wrapping ErrInvalid.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
