// Package config provides configuration structures and loading for glassmigrate.
package config

// Supported database drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config represents the complete application configuration.
type Config struct {
	Catalog   DatabaseConfig  `yaml:"catalog" mapstructure:"catalog"`
	State     DatabaseConfig  `yaml:"state" mapstructure:"state"`
	Migration MigrationConfig `yaml:"migration" mapstructure:"migration"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
}

// DatabaseConfig describes one database connection. SQLite connections only use
// Path; MySQL connections use the network fields.
type DatabaseConfig struct {
	Driver             string `yaml:"driver" mapstructure:"driver"` // sqlite or mysql
	Path               string `yaml:"path" mapstructure:"path"`
	Host               string `yaml:"host" mapstructure:"host"`
	Port               int    `yaml:"port" mapstructure:"port"`
	User               string `yaml:"user" mapstructure:"user"`
	Password           string `yaml:"password" mapstructure:"password"`
	Database           string `yaml:"database" mapstructure:"database"`
	TLS                string `yaml:"tls" mapstructure:"tls"` // disable, preferred, required
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections"`

	// Catalog only.
	ItemsTable     string `yaml:"items_table" mapstructure:"items_table"`
	InventoryTable string `yaml:"inventory_table" mapstructure:"inventory_table"`
}

// IsMySQL reports whether the connection targets MySQL.
func (d DatabaseConfig) IsMySQL() bool {
	return d.Driver == DriverMySQL
}

// MigrationConfig controls the units repair pass.
type MigrationConfig struct {
	FlagKey            string `yaml:"flag_key" mapstructure:"flag_key"`
	BackupKey          string `yaml:"backup_key" mapstructure:"backup_key"`
	Sentinel           int64  `yaml:"sentinel" mapstructure:"sentinel"`
	DefaultUnits       int64  `yaml:"default_units" mapstructure:"default_units"`
	BatchSize          int    `yaml:"batch_size" mapstructure:"batch_size"`
	ProgressStep       int    `yaml:"progress_step" mapstructure:"progress_step"` // percent between progress events
	ValidateDependents bool   `yaml:"validate_dependents" mapstructure:"validate_dependents"`
	StrictValidation   bool   `yaml:"strict_validation" mapstructure:"strict_validation"`
	LockTimeoutSeconds int    `yaml:"lock_timeout_seconds" mapstructure:"lock_timeout_seconds"`
}

// MetricsConfig controls the optional Prometheus textfile export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Catalog: DatabaseConfig{
			Driver:             DriverSQLite,
			Path:               "molten.db",
			Port:               3306,
			TLS:                "preferred",
			MaxConnections:     4,
			MaxIdleConnections: 2,
			ItemsTable:         "catalog_items",
			InventoryTable:     "inventory_items",
		},
		State: DatabaseConfig{
			Driver:             DriverSQLite,
			Path:               "migration_state.db",
			Port:               3306,
			TLS:                "preferred",
			MaxConnections:     2,
			MaxIdleConnections: 1,
		},
		Migration: MigrationConfig{
			FlagKey:            "units_migration_v2_completed",
			BackupKey:          "units_migration_backup",
			Sentinel:           0,
			DefaultUnits:       1,
			BatchSize:          500,
			ProgressStep:       10,
			ValidateDependents: true,
			StrictValidation:   false,
			LockTimeoutSeconds: 1,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}
