package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("application not found")
	ErrDuplicateID         = errors.New("duplicate application id")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrMissingRemarks      = errors.New("rejection remarks are required")
	ErrValidation          = errors.New("validation failed")
	ErrTimeout             = errors.New("store operation timed out")
	ErrForbidden           = errors.New("caller is not the assigned officer")
	ErrDocumentsUnverified = errors.New("mandatory documents are not verified")
	ErrTemporary           = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// KindName returns the wire name of the first error kind err carries.
func KindName(err error) string {
	switch {
	case err == nil:
		return ""
	case IsKind(err, ErrNotFound):
		return "NOT_FOUND"
	case IsKind(err, ErrDuplicateID):
		return "DUPLICATE_ID"
	case IsKind(err, ErrMissingRemarks):
		return "MISSING_REMARKS"
	case IsKind(err, ErrInvalidTransition):
		return "INVALID_TRANSITION"
	case IsKind(err, ErrValidation):
		return "VALIDATION_ERROR"
	case IsKind(err, ErrTimeout):
		return "TIMEOUT"
	case IsKind(err, ErrForbidden):
		return "FORBIDDEN"
	case IsKind(err, ErrDocumentsUnverified):
		return "DOCUMENTS_UNVERIFIED"
	case IsKind(err, ErrTemporary):
		return "TEMPORARY"
	default:
		return "INTERNAL"
	}
}

func validationf(operation, format string, args ...any) error {
	return WrapError(ErrValidation, operation, fmt.Errorf(format, args...))
}

func transitionf(operation, format string, args ...any) error {
	return WrapError(ErrInvalidTransition, operation, fmt.Errorf(format, args...))
}
