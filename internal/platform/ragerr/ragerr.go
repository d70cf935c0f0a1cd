package ragerr

import (
	"errors"
	"fmt"
)

// Kind classifies pipeline failures so callers can decide between degrading,
// short-circuiting a batch, or stopping the session.
type Kind string

const (
	// KindCapabilityUnavailable: an optional collaborator (matcher, terminology
	// service) is not configured. Callers degrade to empty results.
	KindCapabilityUnavailable Kind = "capability_unavailable"

	// KindAuthFailed: the remote rejected our credentials. Callers must stop
	// issuing further calls in the same scope.
	KindAuthFailed Kind = "auth_failed"

	// KindTransientRemote: timeout / 5xx after retries. Per-item degrade.
	KindTransientRemote Kind = "transient_remote"

	// KindConnectionClosed: the graph connection was used after Close.
	KindConnectionClosed Kind = "connection_closed"

	// KindSearchDegraded: a graph search failed and an empty result was
	// substituted. The request proceeds with degraded context.
	KindSearchDegraded Kind = "search_degraded"

	// KindGenerationFailed: the text generator failed; the caller substitutes
	// a fallback answer.
	KindGenerationFailed Kind = "generation_failed"
)

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind Kind) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, or "" when err is not kind-coded.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}
