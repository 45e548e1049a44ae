// Package internaldefs holds the metric names and bucket boundaries shared by
// the exporter packages.
//
// Both the Prometheus and OTel exporters render from these definitions, so a
// change here affects every exporter at once.
//
// # What this package must NOT do
//
//   - Import an exporter package.
//   - Perform I/O.
package internaldefs
