// Package telemetry exposes a running driver to the outside: an HTTP server
// with Prometheus-style metrics, health and readiness probes, a websocket
// stream of snapshots that also accepts wheel commands, and a CBOR recorder
// for snapshots.
package telemetry
