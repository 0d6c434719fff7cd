// Package lock provides the MySQL advisory lock that keeps two glassmigrate
// processes from migrating the same state store at once.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/flameworker/glassmigrate/internal/logger"
)

var (
	// ErrLockTimeout is returned when another process holds the lock.
	ErrLockTimeout = errors.New("lock acquisition timed out")
	// ErrSingleConnectionPool is returned when holding the lock would take the
	// pool's only connection away from every other query.
	ErrSingleConnectionPool = errors.New("connection pool allows only one connection")
)

// Timeouts for GET_LOCK, in seconds.
const (
	TimeoutImmediate = 0
	TimeoutShort     = 1
	// TimeoutInfinite waits until the lock is free. MySQL treats negative values as infinite.
	TimeoutInfinite = -1
)

const releaseTimeout = 5 * time.Second

// AdvisoryLock is a named MySQL GET_LOCK lock.
//
// MySQL ties named locks to the session that took them, so the lock pins
// one pooled connection from Acquire until Release. Closing that connection
// releases the lock on the server as well.
type AdvisoryLock struct {
	db     *sql.DB
	name   string
	conn   *sql.Conn
	logger *logger.Logger
}

// New creates an advisory lock. Nothing is acquired until Acquire.
func New(db *sql.DB, name string, log *logger.Logger) *AdvisoryLock {
	if log == nil {
		log = logger.NewDefault()
	}
	return &AdvisoryLock{db: db, name: name, logger: log}
}

// NewMigrationLock creates the lock guarding the migration identified by flagKey.
func NewMigrationLock(db *sql.DB, flagKey string, log *logger.Logger) *AdvisoryLock {
	return New(db, MigrationLockName(flagKey), log)
}

// MigrationLockName returns "glassmigrate:migration:<key>" with characters
// outside [A-Za-z0-9_-] replaced. MySQL limits lock names to 64 characters,
// so longer keys are truncated.
func MigrationLockName(flagKey string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, flagKey)

	name := "glassmigrate:migration:" + sanitized
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// Name returns the lock name.
func (a *AdvisoryLock) Name() string {
	return a.name
}

// IsHeld reports whether this instance holds the lock.
func (a *AdvisoryLock) IsHeld() bool {
	return a.conn != nil
}

// Acquire waits up to timeoutSeconds for the lock. It returns false without
// an error when the wait timed out.
//
// GET_LOCK returns 1 on success, 0 on timeout, and NULL on a server error.
func (a *AdvisoryLock) Acquire(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.conn != nil {
		return true, nil
	}
	if a.db.Stats().MaxOpenConnections == 1 {
		return false, fmt.Errorf("%w: lock %q needs a dedicated connection", ErrSingleConnectionPool, a.name)
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve connection for lock: %w", err)
	}

	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.name, timeoutSeconds).Scan(&result); err != nil {
		a.closeConn(conn)
		return false, fmt.Errorf("failed to execute GET_LOCK: %w", err)
	}
	if !result.Valid {
		a.closeConn(conn)
		return false, fmt.Errorf("GET_LOCK returned NULL for lock %q", a.name)
	}

	switch result.Int64 {
	case 1:
		a.conn = conn
		a.logger.Debugw("Advisory lock acquired", "lock", a.name)
		return true, nil
	case 0:
		a.closeConn(conn)
		return false, nil
	default:
		a.closeConn(conn)
		return false, fmt.Errorf("unexpected GET_LOCK return value: %d", result.Int64)
	}
}

// AcquireOrFail acquires the lock or returns ErrLockTimeout.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context, timeoutSeconds int) error {
	acquired, err := a.Acquire(ctx, timeoutSeconds)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another process", ErrLockTimeout, a.name)
	}
	return nil
}

// Release releases the lock and returns its connection to the pool. It
// returns false when the lock was not held.
//
// RELEASE_LOCK returns 1 when released, 0 when another session owns the
// lock, and NULL when no such lock exists.
func (a *AdvisoryLock) Release(ctx context.Context) (bool, error) {
	if a.conn == nil {
		return false, nil
	}
	conn := a.conn
	a.conn = nil
	defer a.closeConn(conn)

	var result sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.name).Scan(&result); err != nil {
		return false, fmt.Errorf("failed to execute RELEASE_LOCK: %w", err)
	}
	if !result.Valid {
		return false, fmt.Errorf("RELEASE_LOCK returned NULL for lock %q", a.name)
	}
	if result.Int64 != 1 {
		return false, nil
	}

	a.logger.Debugw("Advisory lock released", "lock", a.name)
	return true, nil
}

// WithLock runs fn while holding the lock. The lock is released when fn
// returns or panics, using a fresh context so a canceled ctx does not leave
// it held.
func (a *AdvisoryLock) WithLock(ctx context.Context, timeoutSeconds int, fn func() error) error {
	if err := a.AcquireOrFail(ctx, timeoutSeconds); err != nil {
		return err
	}

	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if _, err := a.Release(releaseCtx); err != nil {
			a.logger.Warnw("Failed to release advisory lock", "lock", a.name, "error", err)
		}
	}()

	return fn()
}

// IsLocked reports whether any session currently holds name, without
// trying to take it.
func IsLocked(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var owner sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT IS_USED_LOCK(?)", name).Scan(&owner); err != nil {
		return false, fmt.Errorf("failed to execute IS_USED_LOCK: %w", err)
	}
	return owner.Valid, nil
}

func (a *AdvisoryLock) closeConn(conn *sql.Conn) {
	if err := conn.Close(); err != nil {
		a.logger.Warnw("Failed to close lock connection", "lock", a.name, "error", err)
	}
}
