// Package migration implements the startup units migration: detection,
// backup, rewrite, validation, and restore-on-failure, driven by a
// Coordinator state machine.
package migration

import (
	"errors"
	"fmt"
)

var (
	// ErrBackupCreationFailed is returned when the snapshot could not be taken or stored.
	ErrBackupCreationFailed = errors.New("backup creation failed")
	// ErrNoBackupFound is returned by Rollback when no snapshot is stored.
	ErrNoBackupFound = errors.New("no backup found")
	// ErrBackupCorrupted is returned by Rollback when the snapshot does not decode.
	ErrBackupCorrupted = errors.New("backup corrupted")
	// ErrRollbackFailed is returned when restored values could not be committed.
	ErrRollbackFailed = errors.New("rollback failed")
	// ErrValidationFailed is returned when the post-migration check fails.
	ErrValidationFailed = errors.New("validation failed")
	// ErrManualInterventionRequired marks states that no automatic step will repair.
	ErrManualInterventionRequired = errors.New("manual intervention required")
)

// rollbackFailure wraps err so it matches both ErrRollbackFailed and
// ErrManualInterventionRequired.
func rollbackFailure(err error) error {
	if !errors.Is(err, ErrRollbackFailed) {
		err = fmt.Errorf("%w: %w", ErrRollbackFailed, err)
	}
	if !errors.Is(err, ErrManualInterventionRequired) {
		err = fmt.Errorf("%w: %w", ErrManualInterventionRequired, err)
	}
	return err
}
