// Package internaldefs holds the shared metric name and help-text tables
// consumed by the exporter packages. It carries no behavior beyond bucket
// arithmetic.
package internaldefs
