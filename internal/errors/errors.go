package errors

import (
	"errors"
	"fmt"
)

var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrFeatureDisabled   = errors.New("offline download not supported")
	ErrStorage           = errors.New("storage failure")
	ErrQuotaExceeded     = errors.New("too many active tasks")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRepoNotFound      = errors.New("repository not found")
	ErrUnauthenticated   = errors.New("authentication required")
)

// UserError carries a message that is safe to return to the client.
type UserError struct {
	Kind error
	Msg  string
}

func (e *UserError) Error() string { return e.Msg }

func (e *UserError) Unwrap() error { return e.Kind }

// InvalidArgument builds a client-facing ErrInvalidArgument.
func InvalidArgument(format string, args ...any) error {
	return &UserError{Kind: ErrInvalidArgument, Msg: fmt.Sprintf(format, args...)}
}

// PermissionDenied builds a client-facing ErrPermissionDenied.
func PermissionDenied(msg string) error {
	return &UserError{Kind: ErrPermissionDenied, Msg: msg}
}

// QuotaExceeded builds a client-facing ErrQuotaExceeded.
func QuotaExceeded(msg string) error {
	return &UserError{Kind: ErrQuotaExceeded, Msg: msg}
}

// Storage wraps a backend failure so it maps to an opaque server error.
func Storage(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
