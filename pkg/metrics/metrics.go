package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/havenvirt/stratum/pkg/lvm"
)

var (
	// Pool metrics
	PoolSizeBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_pool_size_bytes",
			Help: "Total capacity of the thin pool in bytes",
		},
		[]string{"pool"},
	)

	PoolUsageBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_pool_usage_bytes",
			Help: "Allocated bytes in the thin pool",
		},
		[]string{"pool"},
	)

	PoolVolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stratum_pool_volumes_total",
			Help: "Number of managed volumes found in the pool",
		},
		[]string{"pool"},
	)

	VolumesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "stratum_volumes_total",
			Help: "Total number of registered volumes",
		},
	)

	// Tool invocation metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_lvm_commands_total",
			Help: "Total number of LVM tool invocations by command and status",
		},
		[]string{"command", "status"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_lvm_command_duration_seconds",
			Help:    "LVM tool invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Volume operation metrics
	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stratum_volume_operations_total",
			Help: "Total number of volume operations by kind and status",
		},
		[]string{"operation", "status"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stratum_volume_operation_duration_seconds",
			Help:    "Volume operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PoolSizeBytes)
	prometheus.MustRegister(PoolUsageBytes)
	prometheus.MustRegister(PoolVolumesTotal)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(OperationDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// InstrumentExec wraps an exec function with command counters and a
// duration histogram. Plug it into lvm.Config.Exec; a nil next wraps
// the default runner.
func InstrumentExec(next lvm.ExecFunc) lvm.ExecFunc {
	if next == nil {
		next = lvm.DefaultExec
	}
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		start := time.Now()
		out, err := next(ctx, name, args...)
		command := name
		if command == "sudo" && len(args) > 0 {
			command = args[0]
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		CommandsTotal.WithLabelValues(command, status).Inc()
		CommandDuration.WithLabelValues(command).Observe(time.Since(start).Seconds())
		return out, err
	}
}

// RecordOperation counts a volume operation and its outcome.
func RecordOperation(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	OperationsTotal.WithLabelValues(operation, status).Inc()
}
