// Package ws is the websocket gateway. Each connection attaches to one
// fiddle session; the Hub fans session events out to connections with a
// single write pump per socket, and the Handler pumps client events into
// the orchestrator.
package ws
