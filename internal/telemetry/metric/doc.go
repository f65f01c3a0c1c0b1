// Package metric provides the Prometheus registry of ksefbridge.
//
//   - prometheus.go: registry, inbound request metrics and the /metrics handler
//   - collector.go: gauges read from live components at scrape time
//
// Components own their metrics and register them through Registerer():
// the Exchange governor, the badger engine and the sync scheduler.
package metric
