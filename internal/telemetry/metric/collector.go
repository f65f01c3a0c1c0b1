package metric

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type liveGauge struct {
	desc *prometheus.Desc
	fn   func() float64
}

// Collector reports gauges whose values are read from components at
// scrape time, such as the token cache size.
type Collector struct {
	mu     sync.RWMutex
	gauges []liveGauge
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Add registers a gauge named ksefbridge_<name>. Add before the first
// scrape; descriptors added later are not announced by Describe.
func (c *Collector) Add(name, help string, fn func() float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges = append(c.gauges, liveGauge{
		desc: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		fn:   fn,
	})
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.gauges {
		ch <- g.desc
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.fn())
	}
}
