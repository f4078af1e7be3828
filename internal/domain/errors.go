package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures crossing the engine boundary.
type ErrorKind string

const (
	KindUnknownModel       ErrorKind = "UnknownModel"
	KindUnknownRagSource   ErrorKind = "UnknownRagSource"
	KindTokenLimitExceeded ErrorKind = "TokenLimitExceeded"
	KindProvider           ErrorKind = "ProviderError"
	KindPersistence        ErrorKind = "PersistenceError"
	KindRetrieval          ErrorKind = "RetrievalFailure"
	KindInvalidInput       ErrorKind = "InvalidInput"
	KindNotFound           ErrorKind = "NotFound"
)

// Error is the tagged error returned by the engine and its collaborators.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewError builds a tagged error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Errorf builds a tagged error with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// HasKind reports whether err carries the given kind.
func HasKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// Wrap tags err with kind unless it already carries a domain kind, which is kept unchanged.
func Wrap(kind ErrorKind, message string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return NewError(kind, message, err)
}
