package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, pgUniqueViolation) {
		return true
	}

	// PostgreSQL (error code 23505)
	if strings.Contains(err.Error(), "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL (error code 1062)
	if strings.Contains(err.Error(), "Error 1062") {
		return true
	}

	// SQLite (error code 2067)
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsRetryable reports whether a database error is a transient concurrency
// conflict that can be retried as a whole transaction.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if hasPGCode(err, pgSerializationFailure) || hasPGCode(err, pgDeadlockDetected) || hasPGCode(err, pgLockNotAvailable) {
		return true
	}
	msg := err.Error()
	// SQLite busy / locked
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

// IsLockTimeout reports a row lock that could not be acquired in time.
func IsLockTimeout(err error) bool {
	return hasPGCode(err, pgLockNotAvailable)
}

// IsSerializationFailure reports a serialization or deadlock abort.
func IsSerializationFailure(err error) bool {
	return hasPGCode(err, pgSerializationFailure) || hasPGCode(err, pgDeadlockDetected)
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
