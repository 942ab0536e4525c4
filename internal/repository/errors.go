package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/foxzi/pageforge/internal/layout"
)

// isUniqueViolation reports a unique constraint failure on either driver
func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

func isUnavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked || se.Code == sqlite3.ErrCantOpen
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		// class 08: connection exception, 57P: operator intervention
		return pe.Code.Class() == "08" || pe.Code == "57P01" || pe.Code == "57P03"
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// classify maps driver errors onto the store's error kinds
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s", layout.ErrSlugConflict, op)
	case isUnavailable(err):
		return layout.Unavailable(op, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
