package transcriber

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindTransient Kind = iota
	KindPermissionDenied
	KindQuotaExceeded
	KindProtocol
	KindSessionState
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermissionDenied:
		return "permission_denied"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindProtocol:
		return "protocol"
	case KindSessionState:
		return "session_state"
	default:
		return "unknown"
	}
}

var (
	ErrTransient        = &Error{Kind: KindTransient}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrQuotaExceeded    = &Error{Kind: KindQuotaExceeded}
	ErrProtocol         = &Error{Kind: KindProtocol}
	ErrSessionState     = &Error{Kind: KindSessionState}

	// ErrStreamExpired marks an upstream abort caused by the provider's
	// per-connection duration cap.
	ErrStreamExpired = errors.New("upstream stream duration limit reached")
)

// Error is a classified transcription failure. errors.Is matches on Kind, so
// errors.Is(err, ErrQuotaExceeded) holds for any quota failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Fatal reports whether the failure ends the session without a restart attempt.
func (e *Error) Fatal() bool {
	switch e.Kind {
	case KindPermissionDenied, KindQuotaExceeded:
		return true
	default:
		return false
	}
}

// KindOf returns the classification of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal()
	}
	return false
}
