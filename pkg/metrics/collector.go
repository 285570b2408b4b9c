package metrics

import (
	"context"
	"time"

	"github.com/havenvirt/stratum/pkg/registry"
	"github.com/havenvirt/stratum/pkg/thin"
)

// Collector periodically samples pool capacity and volume counts
type Collector struct {
	pools  map[string]*thin.Pool
	store  registry.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector over the managed pools
func NewCollector(pools map[string]*thin.Pool, store registry.Store) *Collector {
	return &Collector{
		pools:  pools,
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for name, pool := range c.pools {
		c.collectPoolMetrics(ctx, name, pool)
	}
	c.collectVolumeMetrics()
}

func (c *Collector) collectPoolMetrics(ctx context.Context, name string, pool *thin.Pool) {
	size, err := pool.Size(ctx)
	if err != nil {
		return
	}
	usage, err := pool.Usage(ctx)
	if err != nil {
		return
	}
	volumes, err := pool.ListVolumes(ctx)
	if err != nil {
		return
	}

	PoolSizeBytes.WithLabelValues(name).Set(float64(size))
	PoolUsageBytes.WithLabelValues(name).Set(float64(usage))
	PoolVolumesTotal.WithLabelValues(name).Set(float64(len(volumes)))
}

func (c *Collector) collectVolumeMetrics() {
	if c.store == nil {
		return
	}
	volumes, err := c.store.ListVolumes()
	if err != nil {
		return
	}
	VolumesTotal.Set(float64(len(volumes)))
}
