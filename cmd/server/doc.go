// Package main is the entry point for the fiddle backend server.
//
// The server lets users edit small scripts, execute them in ephemeral
// sandboxes, and publish them as immutable shared fiddles that others can
// fork. All realtime interaction runs over a websocket; REST endpoints
// cover health, metrics, and the download archive.
//
// Configuration comes from environment variables (12-factor), optionally
// overlaid by a YAML file named in CONFIG_FILE.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown
package main
