// Package metrics exposes Prometheus instrumentation for the node server:
// request counters by command and status, CALL latency, staging copy
// counters and the worker pool gauge. Init registers the collectors and
// StartServer serves /metrics on an optional side port.
package metrics
