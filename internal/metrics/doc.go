// Package metrics exposes roomcast activity as Prometheus metrics.
//
// Hub activity is counted through the hub.Observer hooks. Room sizes, pool
// occupancy and persister backlog are read from their owners on each scrape.
package metrics
