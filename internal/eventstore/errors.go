// internal/eventstore/errors.go
package eventstore

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"
)

// Postgres SQLSTATE codes worth retrying.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// SQLite primary result codes worth retrying.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// isTransient reports whether err comes from contention that a retry of the
// whole transaction can resolve.
func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pgRetryable(string(pqErr.Code))
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgRetryable(pgErr.Code)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// extended codes carry the primary code in the low byte
		switch liteErr.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
	}
	return false
}

func pgRetryable(code string) bool {
	return code == pgSerializationFailure || code == pgDeadlockDetected
}
