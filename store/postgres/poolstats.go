package postgres

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// stat is the interface implemented by pgxpool.Stat.
type stat interface {
	AcquireCount() int64
	AcquireDuration() time.Duration
	AcquiredConns() int32
	CanceledAcquireCount() int64
	ConstructingConns() int32
	EmptyAcquireCount() int64
	IdleConns() int32
	MaxConns() int32
	TotalConns() int32
}

var _ stat = (*pgxpool.Stat)(nil)

// poolCollector is a prometheus.Collector reporting the nine
// statistics produced by pgxpool.Stat, labeled by application name.
type poolCollector struct {
	name string
	pool *pgxpool.Pool

	acquireCountDesc         *prometheus.Desc
	acquireDurationDesc      *prometheus.Desc
	acquiredConnsDesc        *prometheus.Desc
	canceledAcquireCountDesc *prometheus.Desc
	constructingConnsDesc    *prometheus.Desc
	emptyAcquireCountDesc    *prometheus.Desc
	idleConnsDesc            *prometheus.Desc
	maxConnsDesc             *prometheus.Desc
	totalConnsDesc           *prometheus.Desc
}

var staticLabels = []string{"application_name"}

func poolMetrics(pool *pgxpool.Pool, appname string) *poolCollector {
	return &poolCollector{
		name: appname,
		pool: pool,
		acquireCountDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_acquire_count",
			"Cumulative count of successful acquires from the pool.",
			staticLabels, nil),
		acquireDurationDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_acquire_duration_seconds_total",
			"Total duration of all successful acquires from the pool.",
			staticLabels, nil),
		acquiredConnsDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_acquired_conns",
			"Number of currently acquired connections in the pool.",
			staticLabels, nil),
		canceledAcquireCountDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_canceled_acquire_count",
			"Cumulative count of acquires canceled by a context.",
			staticLabels, nil),
		constructingConnsDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_constructing_conns",
			"Number of conns with construction in progress.",
			staticLabels, nil),
		emptyAcquireCountDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_empty_acquire_count",
			"Cumulative count of acquires that waited because the pool was empty.",
			staticLabels, nil),
		idleConnsDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_idle_conns",
			"Number of currently idle conns in the pool.",
			staticLabels, nil),
		maxConnsDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_max_conns",
			"Maximum size of the pool.",
			staticLabels, nil),
		totalConnsDesc: prometheus.NewDesc(
			"versiontracker_pgxpool_total_conns",
			"Total number of resources currently in the pool.",
			staticLabels, nil),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquireCountDesc, prometheus.CounterValue, float64(s.AcquireCount()), c.name)
	ch <- prometheus.MustNewConstMetric(c.acquireDurationDesc, prometheus.CounterValue, s.AcquireDuration().Seconds(), c.name)
	ch <- prometheus.MustNewConstMetric(c.acquiredConnsDesc, prometheus.GaugeValue, float64(s.AcquiredConns()), c.name)
	ch <- prometheus.MustNewConstMetric(c.canceledAcquireCountDesc, prometheus.CounterValue, float64(s.CanceledAcquireCount()), c.name)
	ch <- prometheus.MustNewConstMetric(c.constructingConnsDesc, prometheus.GaugeValue, float64(s.ConstructingConns()), c.name)
	ch <- prometheus.MustNewConstMetric(c.emptyAcquireCountDesc, prometheus.CounterValue, float64(s.EmptyAcquireCount()), c.name)
	ch <- prometheus.MustNewConstMetric(c.idleConnsDesc, prometheus.GaugeValue, float64(s.IdleConns()), c.name)
	ch <- prometheus.MustNewConstMetric(c.maxConnsDesc, prometheus.GaugeValue, float64(s.MaxConns()), c.name)
	ch <- prometheus.MustNewConstMetric(c.totalConnsDesc, prometheus.GaugeValue, float64(s.TotalConns()), c.name)
}
