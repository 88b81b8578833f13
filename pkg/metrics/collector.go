package metrics

import (
	"time"

	"github.com/cuemby/scribe/pkg/registry"
)

// Collector periodically samples the DocRegistry's live-document count
// into LiveDocuments, following the teacher's Collector pattern of a
// ticker-driven sampling loop over the process's central state holder.
type Collector struct {
	registry *registry.Registry
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector over reg.
func NewCollector(reg *registry.Registry) *Collector {
	return &Collector{
		registry: reg,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics every 15 seconds.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
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

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	LiveDocuments.Set(float64(c.registry.LiveDocCount()))
}
