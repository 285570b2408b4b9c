/*
Package metrics provides Prometheus metrics and health endpoints for
Stratum.

All metrics carry the stratum_ prefix and are registered against the
default registry at package init. The Collector samples pool capacity
and volume counts on a fixed interval; tool invocations are counted by
wrapping the exec function handed to the lvm client.

# Metrics

Pool state:
  - stratum_pool_size_bytes: Thin pool capacity, per pool
  - stratum_pool_usage_bytes: Allocated bytes, per pool
  - stratum_pool_volumes_total: Managed volumes found on disk, per pool
  - stratum_volumes_total: Registered volume records

Tool invocations:
  - stratum_lvm_commands_total: Invocations by command and status
  - stratum_lvm_command_duration_seconds: Invocation latency

Volume operations:
  - stratum_volume_operations_total: Operations by kind and status
  - stratum_volume_operation_duration_seconds: Operation latency

# Usage

	client := lvm.New(lvm.Config{
		VolumeGroup: cfg.VolumeGroup,
		ThinPool:    cfg.ThinPool,
		Exec:        metrics.InstrumentExec(nil),
	})

	collector := metrics.NewCollector(pools, store)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())
	http.HandleFunc("/health", metrics.HealthHandler())
	http.HandleFunc("/ready", metrics.ReadyHandler())
	http.HandleFunc("/live", metrics.LivenessHandler())

# Health Checks

Components register themselves with RegisterComponent and update their
state as it changes. /health reports overall status from every
registered component; /ready additionally requires the critical
components (registry, lvm) to be registered and healthy.
*/
package metrics
