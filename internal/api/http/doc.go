// Package http serves the REST endpoints of the backend: service and
// health probes and the fiddle download archive. All realtime interaction
// goes through the websocket gateway instead.
package http
