package metrics

import (
	"time"

	"github.com/cuemby/rookery/pkg/types"
)

// TopologySource is what the collector reads from the manager
type TopologySource interface {
	IsLeader() bool

	// Topology returns a copy of the leader's topology, or nil when not leading
	Topology() *types.Topology
}

// Collector periodically exports topology gauges
type Collector struct {
	source   TopologySource
	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// NewCollector returns a collector sampling source every interval, 15s when
// interval is not positive
func NewCollector(source TopologySource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start samples once and then on every tick until Stop
func (c *Collector) Start() {
	go c.loop()
}

// Stop ends sampling and waits for the loop to exit. Call it once, after Start.
func (c *Collector) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Collector) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.collect()
		select {
		case <-ticker.C:
		case <-c.stop:
			return
		}
	}
}

func (c *Collector) collect() {
	if !c.source.IsLeader() {
		IsLeader.Set(0)
		NodesTotal.Reset()
		return
	}
	IsLeader.Set(1)

	topo := c.source.Topology()
	if topo == nil {
		NodesTotal.Reset()
		return
	}

	primaries := 0
	if topo.Primary != "" {
		primaries = 1
	}
	NodesTotal.WithLabelValues(string(types.NodeStatePrimary)).Set(float64(primaries))
	NodesTotal.WithLabelValues(string(types.NodeStateReplica)).Set(float64(len(topo.Replicas)))
	NodesTotal.WithLabelValues(string(types.NodeStateUnavailable)).Set(float64(len(topo.Unavailable)))
}
