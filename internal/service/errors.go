package service

import (
	"errors"
	"fmt"
)

// ProtocolKind classifies a ProtocolError.
type ProtocolKind string

const (
	ProtocolUnknownMode   ProtocolKind = "unknown_mode"
	ProtocolInvalidFilter ProtocolKind = "invalid_filter"
	ProtocolBadCursor     ProtocolKind = "bad_cursor"
	ProtocolStaleCursor   ProtocolKind = "stale_cursor"
	ProtocolUnfinished    ProtocolKind = "unfinished_session"
	ProtocolTooLarge      ProtocolKind = "too_large"
)

// ProtocolError is a request that breaks the discover/page/finalize
// protocol. It ends the current request; nothing retries it.
type ProtocolError struct {
	Kind    ProtocolKind
	Message string
}

func (e *ProtocolError) Error() string {
	return e.Message
}

func protocolErrorf(kind ProtocolKind, format string, args ...any) error {
	return &ProtocolError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// IsStale reports whether err is a ProtocolError about a cursor with no live
// enumeration behind it.
func IsStale(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Kind == ProtocolStaleCursor
}

// ValidationError is one candidate that failed evaluation. It becomes an
// invalid stream event and an invalid count; it never aborts enumeration.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return "invalid candidate: " + e.Reason
	}
	return fmt.Sprintf("invalid candidate %s: %s", e.Key, e.Reason)
}
