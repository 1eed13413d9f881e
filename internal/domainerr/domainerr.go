// Package domainerr defines the closed set of domain failures the
// delivery-control-plane core raises, so callers can branch on errors.Is
// against a small, stable set of sentinels rather than string-matching.
package domainerr

import (
	"errors"
	"fmt"
)

// Kind is a closed enumeration of domain error categories.
type Kind int

const (
	// KindNoSuchArtifact is returned when storing or querying an
	// unregistered artifact.
	KindNoSuchArtifact Kind = iota
	// KindNoSuchDeliveryConfigName is returned looking up a config by an
	// unknown name.
	KindNoSuchDeliveryConfigName
	// KindNoSuchResourceID is returned by get/delete/eventHistory on an
	// unknown resource id.
	KindNoSuchResourceID
	// KindInvalidArgument is returned for caller errors such as
	// eventHistory(limit <= 0) or a negative duration.
	KindInvalidArgument
	// KindInvalidRegex is returned when a tag comparator regex has more
	// than one capture group.
	KindInvalidRegex
	// KindTransientStore is returned when the underlying store is
	// unavailable; the caller's retry policy applies.
	KindTransientStore
)

func (k Kind) String() string {
	switch k {
	case KindNoSuchArtifact:
		return "no_such_artifact"
	case KindNoSuchDeliveryConfigName:
		return "no_such_delivery_config_name"
	case KindNoSuchResourceID:
		return "no_such_resource_id"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInvalidRegex:
		return "invalid_regex"
	case KindTransientStore:
		return "transient_store_error"
	default:
		return "unknown"
	}
}

// Error is the single error type the core raises. It carries a Kind so
// callers can branch with Is, plus an optional wrapped cause.
type Error struct {
	Kind  Kind
	Msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether target is a *Error with the same Kind, so that
// errors.Is(err, domainerr.New(domainerr.KindNoSuchArtifact, "")) works as
// a Kind-comparison sentinel, and so kind-only sentinels below work too.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs a domain error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs a domain error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), cause: cause}
}

// Is reports whether err is a domain error of the given kind.
func Is(err error, kind Kind) bool {
	var de *Error
	if !errors.As(err, &de) {
		return false
	}
	return de.Kind == kind
}

// Sentinels usable directly with errors.Is for callers that don't need a
// message, e.g. errors.Is(err, domainerr.ErrNoSuchArtifact).
var (
	ErrNoSuchArtifact           = &Error{Kind: KindNoSuchArtifact}
	ErrNoSuchDeliveryConfigName = &Error{Kind: KindNoSuchDeliveryConfigName}
	ErrNoSuchResourceID         = &Error{Kind: KindNoSuchResourceID}
	ErrInvalidArgument          = &Error{Kind: KindInvalidArgument}
	ErrInvalidRegex             = &Error{Kind: KindInvalidRegex}
	ErrTransientStore           = &Error{Kind: KindTransientStore}
)
