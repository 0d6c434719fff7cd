package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// CLI flags that override config file values
var (
	cfgFile         string
	logLevel        string
	logFormat       string
	batchSize       int
	metricsTextfile string
)

var rootCmd = &cobra.Command{
	Use:   "glassmigrate",
	Short: "Glass catalog units migration",
	Long: `glassmigrate repairs catalog items whose units were stored as the legacy
sentinel value, rewriting them to the configured default.

A run backs up every item's units before touching anything, validates the
result, and restores the backup if any step fails. A completion flag in the
state store makes later runs a no-op.`,
	Version: Version,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "glassmigrate.yaml",
		"Path to configuration file")

	// Logging overrides
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")

	// Processing overrides
	rootCmd.PersistentFlags().IntVar(&batchSize, "batch-size", 0,
		"Override number of items staged per batch")

	// Metrics
	rootCmd.PersistentFlags().StringVar(&metricsTextfile, "metrics-textfile", "",
		"Write Prometheus metrics to this file after the run")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// CLIOverrides contains flag values that override config file settings
type CLIOverrides struct {
	LogLevel        string
	LogFormat       string
	BatchSize       int
	MetricsTextfile string
}

// GetCLIOverrides returns the CLI flag override values
func GetCLIOverrides() CLIOverrides {
	return CLIOverrides{
		LogLevel:        logLevel,
		LogFormat:       logFormat,
		BatchSize:       batchSize,
		MetricsTextfile: metricsTextfile,
	}
}
