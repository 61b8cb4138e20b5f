// Package runlock serializes dispatch cycles across instances with a
// Postgres advisory lock.
//
// The lock is session-scoped, so each acquisition uses a dedicated database
// connection held for the duration of the run. If the connection dies,
// Postgres releases the lock server-side; there is no renewal or TTL.
package runlock

import (
	"context"
	"database/sql"
	"log"
)

// DefaultKey is the advisory lock key used when none is configured.
const DefaultKey int64 = 0x63616c74 // "calt"

// Lock guards dispatch runs against concurrent execution.
type Lock struct {
	db  *sql.DB
	key int64
}

func New(db *sql.DB, key int64) *Lock {
	if key == 0 {
		key = DefaultKey
	}
	return &Lock{db: db, key: key}
}

// TryAcquire attempts a non-blocking lock grab. When acquired it returns
// true and a release func the caller must invoke when the run finishes.
// When the lock is held elsewhere it returns false and a no-op release.
func (l *Lock) TryAcquire(ctx context.Context) (bool, func(), error) {
	noop := func() {}

	// Advisory lock is session-scoped: must use a dedicated connection.
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, noop, err
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.key).Scan(&acquired); err != nil {
		conn.Close()
		return false, noop, err
	}
	if !acquired {
		conn.Close()
		return false, noop, nil
	}

	release := func() {
		// Unlock on the same session, then free the connection. Closing the
		// connection alone would also release the lock server-side.
		if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", l.key); err != nil {
			log.Printf("runlock: unlock %d: %v", l.key, err)
		}
		conn.Close()
	}
	return true, release, nil
}
