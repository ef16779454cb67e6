package db

import (
	"errors"

	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when the requested row or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("already exists")

	// ErrVersionConflict is returned when an account row changed since it was read.
	ErrVersionConflict = errors.New("account was modified concurrently")
)

// isUniqueViolation reports whether err is a postgres unique constraint violation (23505).
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
