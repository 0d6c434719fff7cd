package lock

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flameworker/glassmigrate/internal/logger"
)

var (
	getLockQuery     = regexp.QuoteMeta("SELECT GET_LOCK(?, ?)")
	releaseLockQuery = regexp.QuoteMeta("SELECT RELEASE_LOCK(?)")
	isUsedLockQuery  = regexp.QuoteMeta("SELECT IS_USED_LOCK(?)")
)

func newMockLock(t *testing.T) (*AdvisoryLock, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, "glassmigrate:migration:test", logger.NewNop()), mock
}

func TestMigrationLockName(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"units_migration_v2_completed", "glassmigrate:migration:units_migration_v2_completed"},
		{"with space;drop", "glassmigrate:migration:with_space_drop"},
		{"dash-ok", "glassmigrate:migration:dash-ok"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.expected, MigrationLockName(tt.key))
		})
	}

	long := MigrationLockName(strings.Repeat("k", 100))
	assert.Len(t, long, 64)
}

func TestAcquire_Success(t *testing.T) {
	l, mock := newMockLock(t)
	mock.ExpectQuery(getLockQuery).
		WithArgs("glassmigrate:migration:test", TimeoutShort).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))

	acquired, err := l.Acquire(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.True(t, l.IsHeld())

	// Acquiring again is a no-op
	acquired, err = l.Acquire(context.Background(), TimeoutShort)
	require.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAcquire_Results(t *testing.T) {
	tests := []struct {
		name      string
		value     any
		queryErr  error
		acquired  bool
		expectErr string
	}{
		{"timeout", int64(0), nil, false, ""},
		{"null result", nil, nil, false, "returned NULL"},
		{"unexpected value", int64(7), nil, false, "unexpected GET_LOCK return value"},
		{"query error", nil, errors.New("gone away"), false, "failed to execute GET_LOCK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, mock := newMockLock(t)
			q := mock.ExpectQuery(getLockQuery)
			if tt.queryErr != nil {
				q.WillReturnError(tt.queryErr)
			} else {
				q.WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(tt.value))
			}

			acquired, err := l.Acquire(context.Background(), TimeoutImmediate)
			assert.Equal(t, tt.acquired, acquired)
			assert.False(t, l.IsHeld())
			if tt.expectErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectErr)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAcquireOrFail_Timeout(t *testing.T) {
	l, mock := newMockLock(t)
	mock.ExpectQuery(getLockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(0))

	err := l.AcquireOrFail(context.Background(), TimeoutShort)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockTimeout))
	assert.Contains(t, err.Error(), "glassmigrate:migration:test")
}

func TestRelease(t *testing.T) {
	l, mock := newMockLock(t)

	// Releasing an unheld lock does not touch the database
	released, err := l.Release(context.Background())
	require.NoError(t, err)
	assert.False(t, released)

	mock.ExpectQuery(getLockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	mock.ExpectQuery(releaseLockQuery).
		WithArgs("glassmigrate:migration:test").
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

	_, err = l.Acquire(context.Background(), TimeoutShort)
	require.NoError(t, err)

	released, err = l.Release(context.Background())
	require.NoError(t, err)
	assert.True(t, released)
	assert.False(t, l.IsHeld())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRelease_NotOwner(t *testing.T) {
	l, mock := newMockLock(t)
	mock.ExpectQuery(getLockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
	mock.ExpectQuery(releaseLockQuery).
		WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(0))

	_, err := l.Acquire(context.Background(), TimeoutShort)
	require.NoError(t, err)

	released, err := l.Release(context.Background())
	require.NoError(t, err)
	assert.False(t, released)
	assert.False(t, l.IsHeld())
}

func TestWithLock(t *testing.T) {
	t.Run("runs fn and releases", func(t *testing.T) {
		l, mock := newMockLock(t)
		mock.ExpectQuery(getLockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
		mock.ExpectQuery(releaseLockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

		called := false
		err := l.WithLock(context.Background(), TimeoutShort, func() error {
			called = true
			assert.True(t, l.IsHeld())
			return nil
		})
		require.NoError(t, err)
		assert.True(t, called)
		assert.False(t, l.IsHeld())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fn error is returned after release", func(t *testing.T) {
		l, mock := newMockLock(t)
		mock.ExpectQuery(getLockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
		mock.ExpectQuery(releaseLockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

		boom := errors.New("boom")
		err := l.WithLock(context.Background(), TimeoutShort, func() error { return boom })
		assert.True(t, errors.Is(err, boom))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("released on panic", func(t *testing.T) {
		l, mock := newMockLock(t)
		mock.ExpectQuery(getLockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(1))
		mock.ExpectQuery(releaseLockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"RELEASE_LOCK"}).AddRow(1))

		assert.Panics(t, func() {
			_ = l.WithLock(context.Background(), TimeoutShort, func() error { panic("boom") })
		})
		assert.False(t, l.IsHeld())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held elsewhere", func(t *testing.T) {
		l, mock := newMockLock(t)
		mock.ExpectQuery(getLockQuery).
			WillReturnRows(sqlmock.NewRows([]string{"GET_LOCK"}).AddRow(0))

		err := l.WithLock(context.Background(), TimeoutImmediate, func() error {
			t.Fatal("fn must not run")
			return nil
		})
		assert.True(t, errors.Is(err, ErrLockTimeout))
	})
}

func TestIsLocked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(isUsedLockQuery).WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"IS_USED_LOCK"}).AddRow(int64(42)))
	mock.ExpectQuery(isUsedLockQuery).WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"IS_USED_LOCK"}).AddRow(nil))

	locked, err := IsLocked(context.Background(), db, "x")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = IsLocked(context.Background(), db, "x")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestNewMigrationLock(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	l := NewMigrationLock(db, "units_migration_v2_completed", nil)
	assert.Equal(t, "glassmigrate:migration:units_migration_v2_completed", l.Name())
	assert.False(t, l.IsHeld())
}

func TestAcquire_SingleConnectionPool(t *testing.T) {
	l, mock := newMockLock(t)
	l.db.SetMaxOpenConns(1)

	acquired, err := l.Acquire(context.Background(), TimeoutShort)
	assert.False(t, acquired)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSingleConnectionPool))
	assert.False(t, l.IsHeld())

	err = l.WithLock(context.Background(), TimeoutShort, func() error {
		t.Fatal("fn must not run")
		return nil
	})
	assert.True(t, errors.Is(err, ErrSingleConnectionPool))
	assert.NoError(t, mock.ExpectationsWereMet())
}
