package models

import "errors"

// Error taxonomy. Every layer wraps one of these with fmt.Errorf("...: %w")
// so callers can classify failures with errors.Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrConflict     = errors.New("conflict")
	ErrStorage      = errors.New("storage failure")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error kinds reported in structured error responses.
const (
	KindValidation   = "validation"
	KindNotFound     = "not_found"
	KindForbidden    = "forbidden"
	KindConflict     = "conflict"
	KindStorage      = "storage"
	KindUnauthorized = "unauthorized"
	KindInternal     = "internal"
)

// KindOf classifies err into one of the taxonomy kinds.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrStorage):
		return KindStorage
	default:
		return KindInternal
	}
}
