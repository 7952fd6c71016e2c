// Package session implements the per-fiddle orchestrator. One live Session
// exists per fiddle id; it serializes title and content edits, script runs,
// and the share and fork transactions across every connection attached to
// that id, and owns the single sandbox handle of an in-flight run. The
// Registry maps fiddle ids and connection ids to sessions and collects
// sessions that have no connections and no pending work.
package session
