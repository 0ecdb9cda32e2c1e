// Package sinks implements concrete progress consumers: structured zap logging
// and Prometheus collectors for probe outcomes, durations and run states. Each
// sink satisfies progress.Sink and is safe for repeated Consume/Close cycles.
package sinks
