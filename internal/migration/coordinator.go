package migration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/flameworker/glassmigrate/internal/catalog"
	"github.com/flameworker/glassmigrate/internal/config"
	"github.com/flameworker/glassmigrate/internal/logger"
	"github.com/flameworker/glassmigrate/internal/metrics"
	"github.com/flameworker/glassmigrate/internal/progress"
	"github.com/flameworker/glassmigrate/internal/state"
)

// Coordinator states.
const (
	StateNotStarted  = "not_started"
	StateDetecting   = "detecting"
	StateBackingUp   = "backing_up"
	StateMigrating   = "migrating"
	StateValidating  = "validating"
	StateRollingBack = "rolling_back"
	StateCompleted   = "completed"
	StateFailed      = "failed"
)

// Coordinator events.
const (
	EventDetect   = "detect"
	EventSkip     = "skip"
	EventAbandon  = "abandon"
	EventBackup   = "backup"
	EventMigrate  = "migrate"
	EventValidate = "validate"
	EventComplete = "complete"
	EventRollback = "rollback"
	EventRestored = "restored"
	EventAbort    = "abort"
	EventReset    = "reset"
)

// Result describes one PerformStartupMigration call.
type Result struct {
	RunID      string
	Outcome    string // one of the metrics.Outcome* values
	Backup     *BackupSummary
	Summary    *Summary
	Validated  bool
	Rollback   *RollbackSummary
	FinalState string
	Duration   time.Duration
}

// Coordinator runs the startup migration as a state machine:
//
//	not_started -> detecting -> completed
//	not_started -> detecting -> backing_up -> migrating -> validating -> completed
//	backing_up | migrating | validating -> rolling_back -> not_started | failed
//
// failed is terminal for the life of the Coordinator. Create one
// Coordinator per process; PerformStartupMigration serializes callers.
type Coordinator struct {
	runMu sync.Mutex
	fsm   *fsm.FSM

	enteredAt time.Time

	detector  *Detector
	backup    *BackupManager
	executor  *Executor
	validator *Validator
	rollback  *RollbackManager

	flag     *state.CompletionFlag
	backups  *state.BackupStore
	reporter *progress.Reporter
	metrics  *metrics.MigrationMetrics
	logger   *logger.Logger
}

// NewCoordinator wires the migration components over the given stores.
// m may be nil to disable metrics.
func NewCoordinator(store catalog.Store, st state.Store, cfg config.MigrationConfig, log *logger.Logger, m *metrics.MigrationMetrics) (*Coordinator, error) {
	if store == nil {
		return nil, fmt.Errorf("catalog store is nil")
	}
	if st == nil {
		return nil, fmt.Errorf("state store is nil")
	}
	if cfg.FlagKey == "" || cfg.BackupKey == "" {
		return nil, fmt.Errorf("flag key and backup key are required")
	}
	if cfg.FlagKey == cfg.BackupKey {
		return nil, fmt.Errorf("flag key and backup key must differ")
	}
	if log == nil {
		log = logger.NewDefault()
	}

	flag := state.NewCompletionFlag(st, cfg.FlagKey)
	backups := state.NewBackupStore(st, cfg.BackupKey)
	reporter := progress.NewReporter()

	c := &Coordinator{
		flag:     flag,
		backups:  backups,
		reporter: reporter,
		metrics:  m,
		logger:   log,
	}

	var err error
	if c.detector, err = NewDetector(store, flag, cfg.Sentinel, log); err != nil {
		return nil, err
	}
	if c.backup, err = NewBackupManager(store, backups, reporter, cfg.ProgressStep, log); err != nil {
		return nil, err
	}
	if c.executor, err = NewExecutor(store, cfg, reporter, log); err != nil {
		return nil, err
	}
	if c.validator, err = NewValidator(store, cfg.Sentinel, cfg.StrictValidation, log); err != nil {
		return nil, err
	}
	if c.rollback, err = NewRollbackManager(store, backups, flag, reporter, cfg.ProgressStep, log); err != nil {
		return nil, err
	}

	c.fsm = fsm.NewFSM(
		StateNotStarted,
		fsm.Events{
			{Name: EventDetect, Src: []string{StateNotStarted}, Dst: StateDetecting},
			{Name: EventSkip, Src: []string{StateDetecting}, Dst: StateCompleted},
			{Name: EventAbandon, Src: []string{StateDetecting, StateBackingUp}, Dst: StateNotStarted},
			{Name: EventBackup, Src: []string{StateDetecting}, Dst: StateBackingUp},
			{Name: EventMigrate, Src: []string{StateBackingUp}, Dst: StateMigrating},
			{Name: EventValidate, Src: []string{StateMigrating}, Dst: StateValidating},
			{Name: EventComplete, Src: []string{StateValidating}, Dst: StateCompleted},
			{Name: EventRollback, Src: []string{StateBackingUp, StateMigrating, StateValidating}, Dst: StateRollingBack},
			{Name: EventRestored, Src: []string{StateRollingBack}, Dst: StateNotStarted},
			{Name: EventAbort, Src: []string{StateRollingBack}, Dst: StateFailed},
			{Name: EventReset, Src: []string{StateCompleted}, Dst: StateNotStarted},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				now := time.Now()
				if isWorkingState(e.Src) && !c.enteredAt.IsZero() {
					c.metrics.ObservePhase(e.Src, now.Sub(c.enteredAt))
				}
				c.enteredAt = now
				c.logger.WithPhase(e.Dst).Debugw("Migration state changed", "event", e.Event, "from", e.Src)
			},
		},
	)

	return c, nil
}

// OnProgress sets the progress subscriber, replacing any previous one.
func (c *Coordinator) OnProgress(fn progress.Func) {
	c.reporter.Subscribe(fn)
}

// ClearProgress removes the progress subscriber.
func (c *Coordinator) ClearProgress() {
	c.reporter.Clear()
}

// State returns the current state name.
func (c *Coordinator) State() string {
	return c.fsm.Current()
}

// PerformStartupMigration runs detection and, if needed, the full
// backup/migrate/validate cycle. Failures after the backup is stored are
// rolled back before returning; the returned error still reports the
// original failure. If the rollback itself fails the Coordinator enters
// the failed state and every later call returns ErrManualInterventionRequired.
func (c *Coordinator) PerformStartupMigration(ctx context.Context) (*Result, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	if c.fsm.Current() == StateFailed {
		return nil, fmt.Errorf("%w: a previous rollback failed", ErrManualInterventionRequired)
	}
	if c.fsm.Current() == StateCompleted {
		c.event(ctx, EventReset)
	}

	runID := newRunID()
	log := c.logger.WithRun(runID)
	start := time.Now()
	result := &Result{RunID: runID}
	finish := func(outcome string) {
		result.Outcome = outcome
		result.FinalState = c.fsm.Current()
		result.Duration = time.Since(start)
		c.metrics.RecordRun(outcome)
	}

	log.Info("Checking whether units migration is needed")
	c.event(ctx, EventDetect)
	needed, err := c.detector.NeedsMigration(ctx)
	if err != nil {
		c.event(ctx, EventAbandon)
		finish(metrics.OutcomeError)
		return result, fmt.Errorf("failed to detect migration state: %w", err)
	}
	if !needed {
		c.event(ctx, EventSkip)
		c.reporter.Report(progress.PhaseComplete, 0, 0, "No migration needed")
		finish(metrics.OutcomeSkipped)
		log.Info("No migration needed")
		return result, nil
	}
	if err := ctx.Err(); err != nil {
		c.event(ctx, EventAbandon)
		finish(metrics.OutcomeError)
		return result, err
	}

	// Phase 1: backup
	c.event(ctx, EventBackup)
	if exists, err := c.backups.Exists(ctx); err == nil && exists {
		log.Warnw("Replacing backup left by an interrupted run", "key", c.backups.Key())
	}
	result.Backup, err = c.backup.CreateBackup(ctx)
	if err != nil {
		// Nothing was mutated, so there is nothing to roll back
		c.event(ctx, EventAbandon)
		finish(metrics.OutcomeError)
		log.Errorw("Backup failed", "error", err)
		return result, err
	}
	if err := ctx.Err(); err != nil {
		return c.fail(ctx, log, result, finish, err)
	}

	// Phase 2: migrate
	c.event(ctx, EventMigrate)
	result.Summary, err = c.executor.Run(ctx)
	if err != nil {
		return c.fail(ctx, log, result, finish, err)
	}
	c.metrics.RecordRecords(metrics.ResultMigrated, result.Summary.Migrated)
	c.metrics.RecordRecords(metrics.ResultPreserved, result.Summary.Preserved)
	c.metrics.RecordRecords(metrics.ResultUnresolved, result.Summary.DependentsUnresolved)

	// Phase 3: validate
	c.event(ctx, EventValidate)
	c.reporter.Report(progress.PhaseValidate, 0, 1, "Validating migrated items")
	result.Validated, err = c.validator.Validate(ctx)
	if err != nil {
		return c.fail(ctx, log, result, finish, err)
	}
	if !result.Validated {
		log.Warn("Validation found remaining sentinel values; marking migration complete anyway")
	}
	c.reporter.Report(progress.PhaseValidate, 1, 1, "Validating migrated items")

	if err := c.flag.Set(ctx); err != nil {
		return c.fail(ctx, log, result, finish, fmt.Errorf("failed to set completion flag: %w", err))
	}
	if err := c.backups.Delete(ctx); err != nil {
		log.Warnw("Failed to delete backup after successful migration", "key", c.backups.Key(), "error", err)
	}

	c.event(ctx, EventComplete)
	total := result.Summary.Total()
	c.reporter.Report(progress.PhaseComplete, total, total, "Migration complete")
	finish(metrics.OutcomeCompleted)

	log.Infow("Units migration completed",
		"migrated", result.Summary.Migrated,
		"preserved", result.Summary.Preserved,
		"validated", result.Validated,
		"duration", result.Duration,
	)
	return result, nil
}

// fail rolls back after a failure that happened once the backup was stored.
// The rollback ignores cancellation of ctx.
func (c *Coordinator) fail(ctx context.Context, log *logger.Logger, result *Result, finish func(string), cause error) (*Result, error) {
	log.Errorw("Migration failed, rolling back", "state", c.fsm.Current(), "error", cause)
	c.event(ctx, EventRollback)

	rs, err := c.rollback.Rollback(context.WithoutCancel(ctx))
	result.Rollback = rs
	if err != nil {
		c.event(ctx, EventAbort)
		finish(metrics.OutcomeFailed)
		log.Errorw("Rollback failed; manual intervention required", "error", err)
		return result, fmt.Errorf("%w (migration error: %v)", rollbackFailure(err), cause)
	}

	c.event(ctx, EventRestored)
	c.metrics.RecordRecords(metrics.ResultRestored, rs.Restored)
	c.metrics.RecordRecords(metrics.ResultUnrestored, rs.Failed)
	finish(metrics.OutcomeRolledBack)
	log.Warnw("Migration rolled back", "restored", rs.Restored, "failed", rs.Failed)
	return result, fmt.Errorf("migration rolled back: %w", cause)
}

// event fires a transition. Transitions are bookkeeping, so they are not
// subject to ctx cancellation.
func (c *Coordinator) event(ctx context.Context, name string) {
	if err := c.fsm.Event(context.WithoutCancel(ctx), name); err != nil {
		c.logger.Errorw("Invalid migration state transition",
			"event", name,
			"state", c.fsm.Current(),
			"error", err,
		)
	}
}

func isWorkingState(s string) bool {
	switch s {
	case StateDetecting, StateBackingUp, StateMigrating, StateValidating, StateRollingBack:
		return true
	}
	return false
}

// newRunID returns a time-ordered UUIDv7, falling back to v4.
func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// IsManualInterventionRequired reports whether err needs operator action.
func IsManualInterventionRequired(err error) bool {
	return errors.Is(err, ErrManualInterventionRequired)
}
