package services

import "errors"

// Kind classifies a service failure. Handlers translate kinds to HTTP
// statuses; the services themselves never see HTTP.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuth          Kind = "auth"
	KindToken         Kind = "token"
	KindNotFound      Kind = "not_found"
	KindDuplicate     Kind = "duplicate"
	KindQuotaExceeded Kind = "quota_exceeded"
	KindIntegrity     Kind = "integrity"
	KindDependency    Kind = "dependency"
)

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func wrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from err, or KindDependency for errors that did
// not originate in a service (database faults and the like).
func KindOf(err error) Kind {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindDependency
}
