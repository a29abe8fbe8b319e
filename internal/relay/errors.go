package relay

import (
	"errors"
	"fmt"
)

// Kind classifies relay failures.
type Kind int

const (
	KindSandboxUnavailable Kind = iota + 1
	KindLoadTimeout
	KindInjection
	KindTransport
	KindProtocol
	KindDomain
	KindInvalidPayload
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindSandboxUnavailable:
		return "sandbox_unavailable"
	case KindLoadTimeout:
		return "load_timeout"
	case KindInjection:
		return "injection_failure"
	case KindTransport:
		return "transport_failure"
	case KindProtocol:
		return "protocol_failure"
	case KindDomain:
		return "domain_failure"
	case KindInvalidPayload:
		return "invalid_payload"
	default:
		return "unknown"
	}
}

var (
	ErrSandboxUnavailable = errors.New("sandbox unavailable")
	ErrLoadTimeout        = errors.New("sandbox not loaded")
	ErrInjection          = errors.New("script injection failed")
	ErrInvalidPayload     = errors.New("invalid payload")
)

// Error is the error type returned by the relay.
type Error struct {
	Kind    Kind
	Op      string
	ID      string
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.ID != "" {
		return fmt.Sprintf("relay %s [%s]: %s", e.Op, e.ID, msg)
	}
	return fmt.Sprintf("relay %s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels so callers can use errors.Is.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrSandboxUnavailable:
		return e.Kind == KindSandboxUnavailable
	case ErrLoadTimeout:
		return e.Kind == KindLoadTimeout
	case ErrInjection:
		return e.Kind == KindInjection
	case ErrInvalidPayload:
		return e.Kind == KindInvalidPayload
	}
	return false
}

// KindOf extracts the relay kind from err, or 0 when err is not a relay error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
