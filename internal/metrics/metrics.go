// Package metrics provides Prometheus metrics for migration runs.
//
// glassmigrate is a short-lived process, so metrics are written to a
// node-exporter textfile at the end of a run rather than served over HTTP.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded by RecordRun.
const (
	OutcomeSkipped    = "skipped"
	OutcomeCompleted  = "completed"
	OutcomeRolledBack = "rolled_back"
	OutcomeFailed     = "failed"
	OutcomeError      = "error"
)

// Record results recorded by RecordRecords.
const (
	ResultMigrated   = "migrated"
	ResultPreserved  = "preserved"
	ResultRestored   = "restored"
	ResultUnrestored = "unrestored"
	ResultUnresolved = "dependent_unresolved"
)

// MigrationMetrics contains Prometheus metrics for migration runs.
// All Record methods are safe to call on a nil receiver.
type MigrationMetrics struct {
	registry *prometheus.Registry

	runsTotal     *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	phaseDuration *prometheus.HistogramVec
	lastRunTime   prometheus.Gauge
}

// NewMigrationMetrics creates and registers migration metrics on registry.
func NewMigrationMetrics(registry *prometheus.Registry) (*MigrationMetrics, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is nil")
	}
	m := &MigrationMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *MigrationMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glassmigrate_runs_total",
			Help: "Total number of migration runs by outcome",
		},
		[]string{"outcome"}, // skipped, completed, rolled_back, failed, error
	)

	m.recordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glassmigrate_records_total",
			Help: "Total number of catalog records processed by result",
		},
		[]string{"result"},
	)

	m.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glassmigrate_phase_duration_seconds",
			Help:    "Time taken by each migration phase",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		},
		[]string{"phase"},
	)

	m.lastRunTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "glassmigrate_last_run_timestamp_seconds",
			Help: "Unix time of the last finished migration run",
		},
	)
}

// Describe implements prometheus.Collector.
func (m *MigrationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.runsTotal.Describe(ch)
	m.recordsTotal.Describe(ch)
	m.phaseDuration.Describe(ch)
	m.lastRunTime.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *MigrationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.runsTotal.Collect(ch)
	m.recordsTotal.Collect(ch)
	m.phaseDuration.Collect(ch)
	m.lastRunTime.Collect(ch)
}

// RecordRun counts a finished run.
func (m *MigrationMetrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
	m.lastRunTime.SetToCurrentTime()
}

// RecordRecords adds n records with the given result.
func (m *MigrationMetrics) RecordRecords(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsTotal.WithLabelValues(result).Add(float64(n))
}

// ObservePhase records how long a phase took.
func (m *MigrationMetrics) ObservePhase(phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// WriteTextfile writes every metric in the registry to path in the
// node-exporter textfile format. The file is replaced atomically.
func (m *MigrationMetrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
