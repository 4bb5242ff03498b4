package metrics

import (
	"net/url"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rickgao/roomcast/internal/database"
	"github.com/rickgao/roomcast/internal/hub"
	"github.com/rickgao/roomcast/internal/store"
)

// RoomSource reports live room sizes. *hub.Registry satisfies it.
type RoomSource interface {
	Stats() []hub.RoomStats
}

// PoolSource reports connection pool counters. *database.Pools satisfies it.
type PoolSource interface {
	Stats() []database.PoolStats
}

// PersistSource reports persister counters. *store.Persister satisfies it.
type PersistSource interface {
	Stats() store.PersisterMetrics
	Pending() int
}

var (
	roomSubscribersDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "room", "subscribers"),
		"Live subscribers per room", []string{"room"}, nil)

	poolIdleDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "idle_connections"),
		"Idle pooled connections per backing address", []string{"address"}, nil)
	poolAcquiresDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "acquires_total"),
		"Connection acquires by result", []string{"address", "result"}, nil)
	poolDiscardsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "discards_total"),
		"Pooled connections discarded as stale", []string{"address"}, nil)
	poolReleasesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "pool", "releases_total"),
		"Connection releases by result", []string{"address", "result"}, nil)

	persistPendingDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "persister", "pending"),
		"Messages waiting to be written", nil, nil)
	persistRecordsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "persister", "records_total"),
		"Messages handled by the persister, by outcome", []string{"outcome"}, nil)
	persistFlushesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "persister", "flushes_total"),
		"Batch flushes", nil, nil)
	persistErrorsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "persister", "errors_total"),
		"Failed batch writes", nil, nil)
)

// StatsCollector reads point-in-time stats from their owners on every
// scrape. Any source may be nil.
type StatsCollector struct {
	rooms   RoomSource
	pools   PoolSource
	persist PersistSource
}

// NewStatsCollector creates a collector over the given sources.
func NewStatsCollector(rooms RoomSource, pools PoolSource, persist PersistSource) *StatsCollector {
	return &StatsCollector{rooms: rooms, pools: pools, persist: persist}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		roomSubscribersDesc,
		poolIdleDesc, poolAcquiresDesc, poolDiscardsDesc, poolReleasesDesc,
		persistPendingDesc, persistRecordsDesc, persistFlushesDesc, persistErrorsDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if c.rooms != nil {
		for _, rs := range c.rooms.Stats() {
			ch <- prometheus.MustNewConstMetric(roomSubscribersDesc, prometheus.GaugeValue, float64(rs.Subscribers), string(rs.Room))
		}
	}

	if c.pools != nil {
		for _, ps := range c.pools.Stats() {
			addr := PoolLabel(ps.Address)
			ch <- prometheus.MustNewConstMetric(poolIdleDesc, prometheus.GaugeValue, float64(ps.Idle), addr)
			ch <- prometheus.MustNewConstMetric(poolAcquiresDesc, prometheus.CounterValue, float64(ps.Hits), addr, "hit")
			ch <- prometheus.MustNewConstMetric(poolAcquiresDesc, prometheus.CounterValue, float64(ps.Misses), addr, "miss")
			ch <- prometheus.MustNewConstMetric(poolDiscardsDesc, prometheus.CounterValue, float64(ps.Discards), addr)
			ch <- prometheus.MustNewConstMetric(poolReleasesDesc, prometheus.CounterValue, float64(ps.Returns), addr, "pooled")
			ch <- prometheus.MustNewConstMetric(poolReleasesDesc, prometheus.CounterValue, float64(ps.Overflow), addr, "closed")
		}
	}

	if c.persist != nil {
		s := c.persist.Stats()
		ch <- prometheus.MustNewConstMetric(persistPendingDesc, prometheus.GaugeValue, float64(c.persist.Pending()))
		ch <- prometheus.MustNewConstMetric(persistRecordsDesc, prometheus.CounterValue, float64(s.Enqueued), "enqueued")
		ch <- prometheus.MustNewConstMetric(persistRecordsDesc, prometheus.CounterValue, float64(s.Dropped), "dropped")
		ch <- prometheus.MustNewConstMetric(persistRecordsDesc, prometheus.CounterValue, float64(s.Inserts), "inserted")
		ch <- prometheus.MustNewConstMetric(persistRecordsDesc, prometheus.CounterValue, float64(s.Conflicts), "duplicate")
		ch <- prometheus.MustNewConstMetric(persistFlushesDesc, prometheus.CounterValue, float64(s.Flushes))
		ch <- prometheus.MustNewConstMetric(persistErrorsDesc, prometheus.CounterValue, float64(s.Errors))
	}
}

// PoolLabel strips credentials and query parameters from a backing address.
func PoolLabel(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return "invalid"
	}
	return u.Host + u.Path
}
