// Package dberrors maps driver failures from the event stores onto stable
// error codes.
package dberrors

import (
	"errors"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	// CodeConflict marks a write rejected by a constraint.
	CodeConflict = "conflict"
	// CodeRetryable marks a write that lost a serialization race or a lock.
	CodeRetryable = "retryable"

	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteConstraint = 19
)

// Classify returns the stable code for err, or fallback when the driver
// error maps to no known code.
func Classify(err error, fallback string) string {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return CodeConflict
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation, pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
			return CodeConflict
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return CodeRetryable
		}
		return fallback
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xFF {
		case sqliteConstraint:
			return CodeConflict
		case sqliteBusy, sqliteLocked:
			return CodeRetryable
		}
	}
	return fallback
}
