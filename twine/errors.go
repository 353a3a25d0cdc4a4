package twine

import (
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"

	"xdao.co/twine/cidutil"
)

// Kind is a stable category for programmatic error handling. Callers branch
// on Kind (via IsKind or errors.Is against the Err* values), never on
// message text.
type Kind string

const (
	// Resolution family.
	KindNotFound          Kind = "NotFound"
	KindMalformed         Kind = "Malformed"
	KindConnectionFailure Kind = "ConnectionFailure"
	KindCancelled         Kind = "Cancelled"

	// Verification family.
	KindCidMismatch              Kind = "CidMismatch"
	KindBadSignature             Kind = "BadSignature"
	KindUnsupportedHashAlgorithm Kind = "UnsupportedHashAlgorithm"
	KindInvalidTwineFormat       Kind = "InvalidTwineFormat"

	// Parse family.
	KindParse Kind = "Parse"
)

// Family groups kinds.
type Family string

const (
	FamilyResolution   Family = "Resolution"
	FamilyVerification Family = "Verification"
	FamilyParse        Family = "Parse"
)

// Family returns the family k belongs to.
func (k Kind) Family() Family {
	switch k {
	case KindNotFound, KindMalformed, KindConnectionFailure, KindCancelled:
		return FamilyResolution
	case KindCidMismatch, KindBadSignature, KindUnsupportedHashAlgorithm, KindInvalidTwineFormat:
		return FamilyVerification
	}
	return FamilyParse
}

// Error is the structured error of this module.
//
// Expected and Actual are set for CidMismatch. Message is intended for
// humans; do not match on it.
type Error struct {
	Kind     Kind
	Message  string
	Cause    error
	Expected cid.Cid
	Actual   cid.Cid
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrNotFound)
// works for every not-found error regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrNotFound                 = &Error{Kind: KindNotFound, Message: "not found"}
	ErrMalformed                = &Error{Kind: KindMalformed, Message: "malformed data"}
	ErrConnectionFailure        = &Error{Kind: KindConnectionFailure, Message: "connection failure"}
	ErrCancelled                = &Error{Kind: KindCancelled, Message: "cancelled"}
	ErrCidMismatch              = &Error{Kind: KindCidMismatch, Message: "cid mismatch"}
	ErrBadSignature             = &Error{Kind: KindBadSignature, Message: "bad signature"}
	ErrUnsupportedHashAlgorithm = &Error{Kind: KindUnsupportedHashAlgorithm, Message: "unsupported hash algorithm"}
	ErrInvalidTwineFormat       = &Error{Kind: KindInvalidTwineFormat, Message: "invalid twine format"}
	ErrParse                    = &Error{Kind: KindParse, Message: "parse error"}
)

// NewError returns an *Error of kind with a formatted message.
func NewError(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError returns an *Error of kind carrying cause.
func WrapError(kind Kind, msg string, cause error) error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// MismatchError reports a recomputed CID that differs from the declared one.
func MismatchError(expected, actual cid.Cid) error {
	return &Error{
		Kind:     KindCidMismatch,
		Message:  fmt.Sprintf("cid mismatch: expected %s, got %s", cidutil.Format(expected), cidutil.Format(actual)),
		Expected: expected,
		Actual:   actual,
	}
}

// IsKind reports whether err is (or wraps) an *Error of the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of the outermost *Error in err, or "".
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}

// IsNotFound reports a missing strand, tixel or index.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// Retryable reports whether retrying the same call may succeed. Only
// connection failures qualify; malformed data and verification failures
// fail the same way every time.
func Retryable(err error) bool { return IsKind(err, KindConnectionFailure) }

// hashError classifies a cidutil hashing failure.
func hashError(err error) error {
	if errors.Is(err, cidutil.ErrUnsupportedHash) {
		return WrapError(KindUnsupportedHashAlgorithm, "unsupported hash algorithm", err)
	}
	return WrapError(KindMalformed, "cid computation failed", err)
}
