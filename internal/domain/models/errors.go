package models

import (
	"errors"
	"fmt"
)

// Kind classifies engine failures so callers can decide how to react.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTransient
	KindRetryExhausted
	KindRejected
	KindDataQuality
	KindSubscription
	KindStartup
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindRetryExhausted:
		return "retry_exhausted"
	case KindRejected:
		return "rejected"
	case KindDataQuality:
		return "data_quality"
	case KindSubscription:
		return "subscription"
	case KindStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

var (
	ErrOrderNotFound  = errors.New("order not found")
	ErrSymbolNotFound = errors.New("symbol not found")
	ErrDuplicateOrder = errors.New("order already reserved")
)
