// Package errs defines the error taxonomy shared by the submission subsystem.
// Every failure that crosses a component boundary carries one of the kinds
// below so that transports can map it to a status code without string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindInternal marks storage-layer and other non-recoverable faults.
	KindInternal Kind = iota
	KindInvalidArgument
	KindNotFound
	KindPermissionDenied
	KindQuotaExceeded
	KindConflict
	KindUploadIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindNotFound:
		return "not_found"
	case KindPermissionDenied:
		return "permission_denied"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindConflict:
		return "conflict"
	case KindUploadIntegrity:
		return "upload_integrity"
	default:
		return "internal"
	}
}

type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Kind() Kind { return e.kind }

func New(kind Kind, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) error {
	return &Error{kind: kind, msg: msg, err: err}
}

// KindOf classifies an arbitrary error. Errors that did not originate in this
// package are treated as internal faults.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return KindInternal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
