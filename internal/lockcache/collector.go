package lockcache

import "github.com/prometheus/client_golang/prometheus"

var _ prometheus.Collector = (*Collector)(nil)

// Collector is a prometheus.Collector exposing a Cache's size and
// wait-queue depth, in the style of claircore's pkg/poolstats
// collector but pointed at SharedLockCache's own counters instead of a
// connection pool's.
type Collector struct {
	cache *Cache
	name  string

	sizeDesc    *prometheus.Desc
	waitingDesc *prometheus.Desc
}

// NewCollector returns a Collector reporting on cache. name labels the
// metrics so multiple caches in one process can be told apart.
func NewCollector(cache *Cache, name string) *Collector {
	return &Collector{
		cache: cache,
		name:  name,
		sizeDesc: prometheus.NewDesc(
			"versiontracker_lockcache_entries",
			"Number of distinct keys currently held in the lock cache.",
			nil, prometheus.Labels{"cache": name}),
		waitingDesc: prometheus.NewDesc(
			"versiontracker_lockcache_waiting",
			"Number of callers currently blocked waiting for a lock cache slot.",
			nil, prometheus.Labels{"cache": name}),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.sizeDesc, prometheus.GaugeValue, float64(c.cache.Size()))
	ch <- prometheus.MustNewConstMetric(c.waitingDesc, prometheus.GaugeValue, float64(c.cache.Waiting()))
}
