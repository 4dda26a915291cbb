// Package prometheus renders identity engine metrics in Prometheus text
// exposition format. Callers mount [PrometheusExporter.Handler]; nothing
// registers in a global registry and nothing mutates engine state.
package prometheus
