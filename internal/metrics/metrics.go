// Package metrics exposes application-wide Prometheus metrics and the HTTP
// server that serves them. Component-specific metrics live next to their
// components; this package holds the crawler and system level ones.
package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Crawl progress metrics
	LastProcessedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depositwatch_last_processed_block",
			Help: "The last block number fully processed per chain",
		},
		[]string{"chain"},
	)

	HeadBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depositwatch_head_block",
			Help: "The chain head block number last observed per chain",
		},
		[]string{"chain"},
	)

	BlocksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositwatch_blocks_processed_total",
			Help: "Total number of blocks processed",
		},
		[]string{"chain"},
	)

	EventsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositwatch_events_ingested_total",
			Help: "Total number of events ingested by operation",
		},
		[]string{"chain", "operation"},
	)

	BatchProcessingTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depositwatch_batch_processing_duration_seconds",
			Help:    "Time taken to process one block window",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	ReorgsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositwatch_reorgs_detected_total",
			Help: "Total number of chain reorganizations detected",
		},
		[]string{"chain"},
	)

	ReorgDepthObserved = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "depositwatch_reorg_depth_blocks",
			Help:    "Observed depth of detected reorganizations in blocks",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 34},
		},
		[]string{"chain"},
	)

	RowsRolledBack = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositwatch_rows_rolled_back_total",
			Help: "Total number of transaction rows deleted during reorg rollbacks",
		},
		[]string{"chain"},
	)

	Verifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositwatch_verifications_total",
			Help: "Total number of fallback verifications by outcome",
		},
		[]string{"chain", "outcome"},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "depositwatch_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "depositwatch_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depositwatch_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "depositwatch_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "depositwatch_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastProcessedBlockSet(chain string, blockNum uint64) {
	LastProcessedBlock.WithLabelValues(chain).Set(float64(blockNum))
}

func HeadBlockSet(chain string, blockNum uint64) {
	HeadBlock.WithLabelValues(chain).Set(float64(blockNum))
}

func BlocksProcessedInc(chain string, count uint64) {
	BlocksProcessed.WithLabelValues(chain).Add(float64(count))
}

func EventsIngestedInc(chain, operation string) {
	EventsIngested.WithLabelValues(chain, operation).Inc()
}

func BatchProcessingTimeLog(chain string, duration time.Duration) {
	BatchProcessingTime.WithLabelValues(chain).Observe(duration.Seconds())
}

func ReorgDetectedLog(chain string, depth uint64) {
	ReorgsDetected.WithLabelValues(chain).Inc()
	ReorgDepthObserved.WithLabelValues(chain).Observe(float64(depth))
}

func RowsRolledBackInc(chain string, count int64) {
	RowsRolledBack.WithLabelValues(chain).Add(float64(count))
}

func VerificationInc(chain, outcome string) {
	Verifications.WithLabelValues(chain, outcome).Inc()
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	Uptime.Set(time.Since(startTime).Seconds())
	Goroutines.Set(float64(runtime.NumGoroutine()))

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
