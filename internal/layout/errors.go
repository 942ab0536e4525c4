package layout

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrLayoutNotFound  = errors.New("layout not found")
	ErrVersionNotFound = errors.New("version not found")
	ErrSlugConflict    = errors.New("slug already in use")
	ErrVersionConflict = errors.New("current version changed")
	ErrValidation      = errors.New("validation failed")
	ErrUnavailable     = errors.New("content store unavailable")
)

// Unavailable wraps err as ErrUnavailable, keeping the cause for logs
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

// IsTimeout reports whether err came from an expired deadline
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
