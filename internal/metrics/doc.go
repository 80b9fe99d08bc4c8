// Package metrics defines the relay's Prometheus collectors.
//
// Collectors are package-level and registered in init; workers and the
// HTTP handlers increment them directly. Handler() returns the
// promhttp handler mounted at the configured metrics path.
package metrics
