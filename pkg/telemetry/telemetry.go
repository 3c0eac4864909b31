// Package telemetry provides structured logging and Prometheus metrics for
// an anvilnode instance, adapted from the teacher's own health-logging
// component.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Snapshot captures a point-in-time view of node health: active forks,
// journal checkpoint depth, fee-history size and broadcast pool width.
type Snapshot struct {
	ActiveForks      int    `json:"active_forks"`
	JournalDepth     int    `json:"journal_depth"`
	FeeHistoryLen    int    `json:"fee_history_len"`
	BroadcastWorkers int    `json:"broadcast_workers"`
	CoverageItems    int    `json:"coverage_items"`
	MemAlloc         uint64 `json:"mem_alloc"`
	NumGoroutines    int    `json:"goroutines"`
	Timestamp        int64  `json:"timestamp"`
}

// Source supplies the live values a Logger snapshots; anvilnode's wiring
// implements it against the running Database/History/Pool/Report.
type Source interface {
	ActiveForks() int
	JournalDepth() int
	FeeHistoryLen() int
	BroadcastWorkers() int
	CoverageItems() int
}

// Logger writes structured JSON logs and exposes Prometheus gauges over the
// values a Source reports, mirroring the teacher's HealthLogger.
type Logger struct {
	source Source

	log  *logrus.Logger
	file *os.File
	mu   sync.Mutex

	registry          *prometheus.Registry
	forksGauge        prometheus.Gauge
	journalDepthGauge prometheus.Gauge
	feeHistoryGauge   prometheus.Gauge
	broadcastGauge    prometheus.Gauge
	coverageGauge     prometheus.Gauge
	memAllocGauge     prometheus.Gauge
	goroutinesGauge   prometheus.Gauge
	errorCounter      prometheus.Counter
}

// New configures a Logger writing JSON logs to path.
func New(source Source, path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	lg := logrus.New()
	lg.SetFormatter(&logrus.JSONFormatter{})
	lg.SetOutput(f)
	reg := prometheus.NewRegistry()

	l := &Logger{source: source, log: lg, file: f, registry: reg}

	l.forksGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evmforge_active_forks",
		Help: "Number of forks currently registered in the fork database",
	})
	l.journalDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evmforge_journal_checkpoint_depth",
		Help: "Depth of the active journal's checkpoint stack",
	})
	l.feeHistoryGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evmforge_fee_history_entries",
		Help: "Number of blocks currently retained in the fee-history cache",
	})
	l.broadcastGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evmforge_broadcast_workers",
		Help: "Number of persistent workers in the broadcast thread pool",
	})
	l.coverageGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evmforge_coverage_items",
		Help: "Number of coverage items tracked by the active report",
	})
	l.memAllocGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evmforge_mem_alloc_bytes",
		Help: "Current memory allocation in bytes",
	})
	l.goroutinesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "evmforge_goroutines",
		Help: "Number of running goroutines",
	})
	l.errorCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evmforge_log_errors_total",
		Help: "Total number of error events logged",
	})

	reg.MustRegister(
		l.forksGauge,
		l.journalDepthGauge,
		l.feeHistoryGauge,
		l.broadcastGauge,
		l.coverageGauge,
		l.memAllocGauge,
		l.goroutinesGauge,
		l.errorCounter,
	)

	return l, nil
}

// Close releases the underlying log file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// LogEvent records an arbitrary message at the given level.
func (l *Logger) LogEvent(level logrus.Level, msg string) {
	l.mu.Lock()
	if level >= logrus.ErrorLevel {
		l.errorCounter.Inc()
	}
	l.log.Log(level, msg)
	l.mu.Unlock()
}

// Collect gathers a Snapshot from the Source and runtime stats.
func (l *Logger) Collect() Snapshot {
	s := Snapshot{Timestamp: time.Now().Unix(), NumGoroutines: runtime.NumGoroutine()}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	s.MemAlloc = mem.Alloc

	if l.source != nil {
		s.ActiveForks = l.source.ActiveForks()
		s.JournalDepth = l.source.JournalDepth()
		s.FeeHistoryLen = l.source.FeeHistoryLen()
		s.BroadcastWorkers = l.source.BroadcastWorkers()
		s.CoverageItems = l.source.CoverageItems()
	}
	return s
}

// RecordMetrics collects a Snapshot and updates the Prometheus gauges.
func (l *Logger) RecordMetrics() {
	s := l.Collect()
	l.forksGauge.Set(float64(s.ActiveForks))
	l.journalDepthGauge.Set(float64(s.JournalDepth))
	l.feeHistoryGauge.Set(float64(s.FeeHistoryLen))
	l.broadcastGauge.Set(float64(s.BroadcastWorkers))
	l.coverageGauge.Set(float64(s.CoverageItems))
	l.memAllocGauge.Set(float64(s.MemAlloc))
	l.goroutinesGauge.Set(float64(s.NumGoroutines))
	l.LogEvent(logrus.InfoLevel, "metrics recorded")
}

// Run periodically records metrics until ctx is canceled.
func (l *Logger) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.RecordMetrics()
		case <-ctx.Done():
			return
		}
	}
}

// StartMetricsServer exposes a Prometheus metrics endpoint on addr.
func (l *Logger) StartMetricsServer(addr string) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.LogEvent(logrus.ErrorLevel, err.Error())
		}
	}()
	return srv, nil
}

// ShutdownMetricsServer gracefully stops the metrics HTTP server.
func (l *Logger) ShutdownMetricsServer(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
