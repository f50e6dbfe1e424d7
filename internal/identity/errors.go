package identity

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an identity error so adapters can map it to a response without
// matching on message text.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindRoleNotFound
	KindAuthenticationFailed
	KindVerificationFailed
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	case KindRoleNotFound:
		return "role not found"
	case KindAuthenticationFailed:
		return "authentication failed"
	case KindVerificationFailed:
		return "verification failed"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is the error type returned by the identity core.
type Error struct {
	Kind  Kind
	Op    string   // operation that failed, e.g. "ReassignRoles"
	Names []string // offending role names for KindRoleNotFound
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	switch {
	case e.Kind == KindRoleNotFound && len(e.Names) > 0:
		b.WriteString("Role not found: ")
		b.WriteString(strings.Join(e.Names, ", "))
	case e.Err != nil:
		b.WriteString(e.Kind.String())
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	default:
		b.WriteString(e.Kind.String())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare kind sentinels below, so errors.Is(err, ErrNotFound)
// holds for any *Error of KindNotFound regardless of Op or wrapped cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && len(t.Names) == 0 && t.Kind == e.Kind
}

// Kind sentinels for errors.Is.
var (
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrRoleNotFound         = &Error{Kind: KindRoleNotFound}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
	ErrVerificationFailed   = &Error{Kind: KindVerificationFailed}
	ErrInvalid              = &Error{Kind: KindInvalid}
)

// ErrMissingSubject is returned (wrapped in a KindVerificationFailed error) when a token
// verified but carries no subject claim.
var ErrMissingSubject = errors.New("token has no subject claim")

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// RoleNamesOf returns the offending role names carried by a KindRoleNotFound error.
func RoleNamesOf(err error) []string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRoleNotFound {
		return e.Names
	}
	return nil
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// VerificationFailed wraps a token verification error so callers can tell it apart
// from an unknown identity.
func VerificationFailed(op string, err error) error {
	return newError(KindVerificationFailed, op, err)
}

// Conflict wraps a store-level uniqueness violation.
func Conflict(op string, err error) error {
	return newError(KindConflict, op, err)
}

func invalidf(op, format string, args ...any) error {
	return newError(KindInvalid, op, fmt.Errorf(format, args...))
}
