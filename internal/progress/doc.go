// Package progress provides the event type, the non-blocking Hub and the
// Emitter interface the scheduler uses to report run progress. Events are
// batched on a background goroutine and fanned out to pluggable sinks such as
// structured logs or Prometheus collectors. A full buffer drops events rather
// than slowing probes.
package progress
