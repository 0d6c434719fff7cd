package config

import (
	"fmt"
	"strings"

	"github.com/flameworker/glassmigrate/internal/sqlutil"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateDatabase("catalog", &c.Catalog)...)
	errors = append(errors, c.validateCatalogTables()...)
	errors = append(errors, c.validateDatabase("state", &c.State)...)
	errors = append(errors, c.validateStatePool()...)
	errors = append(errors, c.validateMigration()...)
	errors = append(errors, c.validateLogging()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateDatabase(prefix string, db *DatabaseConfig) ValidationErrors {
	var errors ValidationErrors

	switch db.Driver {
	case DriverSQLite:
		if db.Path == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".path",
				Message: "path is required for the sqlite driver",
			})
		}
		return errors
	case DriverMySQL:
	default:
		errors = append(errors, ValidationError{
			Field:   prefix + ".driver",
			Message: "driver must be 'sqlite' or 'mysql'",
		})
		return errors
	}

	if db.Host == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".host",
			Message: "host is required",
		})
	}

	if db.Port <= 0 || db.Port > 65535 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".port",
			Message: "port must be between 1 and 65535",
		})
	}

	if db.User == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".user",
			Message: "user is required",
		})
	}

	if db.Database == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".database",
			Message: "database name is required",
		})
	}

	validTLS := map[string]bool{"disable": true, "preferred": true, "required": true, "": true}
	if !validTLS[db.TLS] {
		errors = append(errors, ValidationError{
			Field:   prefix + ".tls",
			Message: "tls must be 'disable', 'preferred', or 'required'",
		})
	}

	if db.MaxConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_connections",
			Message: "max_connections cannot be negative",
		})
	}

	if db.MaxIdleConnections < 0 {
		errors = append(errors, ValidationError{
			Field:   prefix + ".max_idle_connections",
			Message: "max_idle_connections cannot be negative",
		})
	}

	return errors
}

// validateStatePool rejects a single-connection MySQL state pool. The migration
// lock pins one connection for the whole run, so the state store would wait
// forever for a second one.
func (c *Config) validateStatePool() ValidationErrors {
	if c.State.IsMySQL() && c.State.MaxConnections == 1 {
		return ValidationErrors{{
			Field:   "state.max_connections",
			Message: "max_connections must be 0 (unlimited) or at least 2 for a mysql state store",
		}}
	}
	return nil
}

func (c *Config) validateCatalogTables() ValidationErrors {
	var errors ValidationErrors

	tables := []struct {
		field string
		name  string
	}{
		{"catalog.items_table", c.Catalog.ItemsTable},
		{"catalog.inventory_table", c.Catalog.InventoryTable},
	}
	for _, tbl := range tables {
		if tbl.name == "" {
			errors = append(errors, ValidationError{Field: tbl.field, Message: "table name is required"})
			continue
		}
		if err := sqlutil.CheckIdentifier(tbl.name); err != nil {
			errors = append(errors, ValidationError{Field: tbl.field, Message: err.Error()})
		}
	}

	return errors
}

func (c *Config) validateMigration() ValidationErrors {
	var errors ValidationErrors
	m := c.Migration

	if m.FlagKey == "" {
		errors = append(errors, ValidationError{Field: "migration.flag_key", Message: "flag_key is required"})
	}
	if m.BackupKey == "" {
		errors = append(errors, ValidationError{Field: "migration.backup_key", Message: "backup_key is required"})
	}
	if m.FlagKey != "" && m.FlagKey == m.BackupKey {
		errors = append(errors, ValidationError{
			Field:   "migration.backup_key",
			Message: "backup_key must differ from flag_key",
		})
	}

	if m.DefaultUnits == m.Sentinel {
		errors = append(errors, ValidationError{
			Field:   "migration.default_units",
			Message: "default_units must differ from sentinel",
		})
	}

	if m.BatchSize <= 0 {
		errors = append(errors, ValidationError{
			Field:   "migration.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if m.ProgressStep <= 0 || m.ProgressStep > 100 {
		errors = append(errors, ValidationError{
			Field:   "migration.progress_step",
			Message: "progress_step must be between 1 and 100",
		})
	}

	if m.LockTimeoutSeconds < -1 {
		errors = append(errors, ValidationError{
			Field:   "migration.lock_timeout_seconds",
			Message: "lock_timeout_seconds must be -1 (wait forever) or greater",
		})
	}

	return errors
}

func (c *Config) validateLogging() ValidationErrors {
	var errors ValidationErrors

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "": true}
	if !validLevels[c.Logging.Level] {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: "level must be 'debug', 'info', 'warn', or 'error'",
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "": true}
	if !validFormats[c.Logging.Format] {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: "format must be 'json' or 'text'",
		})
	}

	return errors
}
