// Package resilience implements a three-state circuit breaker (closed,
// open, half-open) used to shield the backend from a misbehaving external
// dependency such as the human-verification provider. Failures open the
// circuit, open circuits fail fast with ErrCircuitOpen, and a timed probe
// window decides when to close again.
package resilience
