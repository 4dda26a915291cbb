// Package otel exports identity engine metrics through an OpenTelemetry
// meter using observable instruments. Collection is pull-based: every
// meter collection takes one engine snapshot.
package otel
