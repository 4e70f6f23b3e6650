package httperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindInvalidState        Kind = "invalid_state"
	KindConcurrencyConflict Kind = "concurrency_conflict"
	KindCorruptRecord       Kind = "corrupt_record"
	KindTransactionFailure  Kind = "transaction_failure"
)

// Error is the classified failure every store and service returns to callers.
// Code is a stable UPPER_SNAKE identifier; Message is safe to surface verbatim.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

func New(kind Kind, code string, msg string) error {
	return &Error{Kind: kind, Code: code, Message: msg, Retryable: defaultRetryable(kind)}
}

func Wrap(kind Kind, code string, msg string, cause error) error {
	return &Error{Kind: kind, Code: code, Message: msg, Retryable: defaultRetryable(kind), cause: cause}
}

// NewConflict builds a concurrency_conflict with explicit retryability; a stale
// base version is a conflict no amount of retrying resolves.
func NewConflict(code string, msg string, retryable bool, cause error) error {
	return &Error{Kind: KindConcurrencyConflict, Code: code, Message: msg, Retryable: retryable, cause: cause}
}

func NewBadRequest(msg string) error { return New(KindValidation, "invalid_request", msg) }

func NewNotFound(code string, msg string) error { return New(KindNotFound, code, msg) }

func IsBadRequest(err error) bool { return Is(err, KindValidation) }

func As(err error) (*Error, bool) {
	e, ok := errors.AsType[*Error](err)
	return e, ok && e != nil
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func IsRetryable(err error) bool {
	e, ok := As(err)
	return ok && e.Retryable
}

func StatusFor(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState, KindConcurrencyConflict:
		return http.StatusConflict
	case KindCorruptRecord:
		return http.StatusUnprocessableEntity
	case KindTransactionFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func defaultRetryable(kind Kind) bool {
	return kind == KindConcurrencyConflict || kind == KindTransactionFailure
}
