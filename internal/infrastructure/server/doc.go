// Package server assembles the backend from configuration: storage
// backend, sandbox runtime, verification gate, session registry, and the
// gin router with its middleware and routes.
package server
