// Package sandbox manages ephemeral script execution environments.
//
// One sandbox is created per run request and emits exactly one terminal
// event: exited(code), crashed(reason), or terminated. Teardown is
// idempotent and releases the container/process, its PTY or snapshot, and
// the staged script before reporting success.
//
// Runtimes:
//   - Containerd: fresh container + task per run via containerd/v2
//   - Process: interpreter subprocess under a PTY (no containerd required)
//
// The session orchestrator owns the handle; it never requests a second
// sandbox for a session while one is outstanding.
package sandbox
