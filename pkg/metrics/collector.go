package metrics

import "time"

// Collector periodically samples state that nothing else touches on
// every change: the degraded-mode flag, which depends on wall-clock
// time passing relative to a subscription's expiry rather than on any
// single event.
type Collector struct {
	degraded func() bool
	stopCh   chan struct{}
}

// NewCollector wires a Collector to a function reporting whether the
// edge is currently in degraded mode (see pkg/security.EvaluateSubscription).
func NewCollector(degraded func() bool) *Collector {
	return &Collector{degraded: degraded, stopCh: make(chan struct{})}
}

// Start begins collecting on a fixed interval.
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
	if c.degraded == nil {
		return
	}
	if c.degraded() {
		DegradedModeGauge.Set(1)
	} else {
		DegradedModeGauge.Set(0)
	}
}
