// Package monitoring exposes Prometheus metrics for the privacy core.
//
// Counters cover the three enforcement surfaces: session lifecycle, URL
// sanitization, and the download quarantine gate. A JSON snapshot backs the
// shell's stats display; the full series are served at /metrics.
package monitoring
