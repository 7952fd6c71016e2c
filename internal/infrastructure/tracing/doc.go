// Package tracing provides lightweight request tracing. Spans propagate
// via the X-Trace-ID and X-Span-ID headers and are emitted through the
// structured logger with buffered async collection.
package tracing
