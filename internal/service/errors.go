package service

import (
	"errors"
	"fmt"

	"github.com/qurbani/slot-allocation/internal/repository"
)

// Kind classifies a service failure so transports can map it without
// parsing messages.
type Kind string

const (
	// KindCapacity covers a closed tier, too few shares left in the ledger
	// and too little room in the slots of a day.
	KindCapacity Kind = "capacity"
	// KindValidation rejects malformed input before any write happens.
	KindValidation Kind = "validation"
	// KindConflict reports a lost race; the caller may retry.
	KindConflict Kind = "conflict"
	// KindNotFound reports an unknown slot or participation.
	KindNotFound Kind = "not_found"
	// KindForbidden reports an identity acting on what it does not own.
	KindForbidden Kind = "forbidden"
)

// Error is the error type returned by every exported service operation.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func capacityError(format string, args ...any) error {
	return newError(KindCapacity, format, args...)
}

func validationError(format string, args ...any) error {
	return newError(KindValidation, format, args...)
}

func conflictError(format string, args ...any) error {
	return newError(KindConflict, format, args...)
}

func notFoundError(format string, args ...any) error {
	return newError(KindNotFound, format, args...)
}

// KindOf returns the kind of err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// translate turns repository sentinels that escaped an operation into
// service errors.  Already classified errors pass through.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, repository.ErrConflict):
		return newError(KindConflict, "the data was modified concurrently, please retry")
	case errors.Is(err, repository.ErrNotFound):
		return newError(KindNotFound, "not found")
	}
	return err
}
