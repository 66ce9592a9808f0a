// In-memory counters for operational metrics, served as JSON on /metrics.
package monitoring

import "sync/atomic"

// MetricsCollector collects gateway-level counters. Session-level counters
// live in the session store and are merged at the /metrics handler.
type MetricsCollector struct {
	requests         atomic.Int64
	successes        atomic.Int64
	upstreamErrors   atomic.Int64
	toolCallsDecoded atomic.Int64
	streamsStarted   atomic.Int64
	streamsCancelled atomic.Int64
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordRequest records a completed chat-completion request.
func (mc *MetricsCollector) RecordRequest(success bool) {
	mc.requests.Add(1)
	if success {
		mc.successes.Add(1)
	}
}

// RecordUpstreamError records a failed upstream call.
func (mc *MetricsCollector) RecordUpstreamError() { mc.upstreamErrors.Add(1) }

// RecordToolCall records a tool invocation decoded from model text.
func (mc *MetricsCollector) RecordToolCall() { mc.toolCallsDecoded.Add(1) }

// RecordStreamStart records a streaming request beginning.
func (mc *MetricsCollector) RecordStreamStart() { mc.streamsStarted.Add(1) }

// RecordStreamCancelled records a client disconnect mid-stream.
func (mc *MetricsCollector) RecordStreamCancelled() { mc.streamsCancelled.Add(1) }

// Stats returns a snapshot of all counters.
func (mc *MetricsCollector) Stats() map[string]int64 {
	return map[string]int64{
		"requests":           mc.requests.Load(),
		"successes":          mc.successes.Load(),
		"upstream_errors":    mc.upstreamErrors.Load(),
		"tool_calls_decoded": mc.toolCallsDecoded.Load(),
		"streams_started":    mc.streamsStarted.Load(),
		"streams_cancelled":  mc.streamsCancelled.Load(),
	}
}
