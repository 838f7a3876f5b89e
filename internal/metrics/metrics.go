// Package metrics exposes Prometheus instrumentation for scans,
// detections, remediations, and reports.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors the engines record into.
type Metrics struct {
	ScansTotal        *prometheus.CounterVec
	ScanDuration      prometheus.Histogram
	FindingsTotal     *prometheus.CounterVec
	ControlDuration   *prometheus.HistogramVec
	RemediationsTotal *prometheus.CounterVec
	RollbacksTotal    *prometheus.CounterVec
	ReportsTotal      *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

// New builds and registers the collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliancemgr_scans_total",
			Help: "Scans by outcome.",
		}, []string{"outcome"}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "compliancemgr_scan_duration_seconds",
			Help:    "Wall clock duration of scans.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		FindingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliancemgr_findings_total",
			Help: "Findings produced by detection, by status.",
		}, []string{"status"}),
		ControlDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "compliancemgr_control_duration_seconds",
			Help:    "Wall clock duration of control detections.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"control_id"}),
		RemediationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliancemgr_remediations_total",
			Help: "Remediation executions by outcome.",
		}, []string{"outcome", "dry_run"}),
		RollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliancemgr_rollbacks_total",
			Help: "Rollback executions by outcome.",
		}, []string{"outcome"}),
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "compliancemgr_reports_total",
			Help: "Exported reports by format.",
		}, []string{"format"}),
	}
	reg.MustRegister(m.ScansTotal, m.ScanDuration, m.FindingsTotal, m.ControlDuration,
		m.RemediationsTotal, m.RollbacksTotal, m.ReportsTotal)
	return m
}

// Default returns the process-wide metrics bound to the default registry.
func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}
