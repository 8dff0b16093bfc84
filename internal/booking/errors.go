package booking

import (
	"errors"
	"fmt"
)

// Kind classifies a business error. Callers use it to decide whether a retry
// can help: only Conflict is retriable, by re-fetching and reapplying.
type Kind uint8

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidState
	KindUnauthorized
	KindNotAssigned
	KindNoApprovedVehicle
	KindConflict
	KindAlreadyPaid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotAssigned:
		return "not_assigned"
	case KindNoApprovedVehicle:
		return "no_approved_vehicle"
	case KindConflict:
		return "conflict"
	case KindAlreadyPaid:
		return "already_paid"
	default:
		return "internal"
	}
}

func (k Kind) Retriable() bool { return k == KindConflict }

// Error is a kind-tagged business error with structured context.
type Error struct {
	Kind      Kind
	Op        string
	BookingID string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	s := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.BookingID != "" {
		s += " booking=" + e.BookingID
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a business error.
func E(kind Kind, op, bookingID, msg string) *Error {
	return &Error{Kind: kind, Op: op, BookingID: bookingID, Msg: msg}
}

func wrap(op, bookingID string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, BookingID: bookingID, Err: err}
}

// KindOf extracts the kind from err, or KindInternal for non-business errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
