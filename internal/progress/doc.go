// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that harvest workers use to report classification progress. The
// hub batches events on a background goroutine and fans them out to pluggable
// sinks such as Prometheus metrics, run-history storage or Pub/Sub.
package progress
