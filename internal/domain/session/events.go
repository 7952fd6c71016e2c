package session

import "github.com/pawnfiddle/backend/internal/shared/id"

// Event names on the wire, client→server (C) and server→client (S).
const (
	EvRunScript         = "runScript"         // C
	EvStopScript        = "stopScript"        // C
	EvSetTitle          = "setTitle"          // C and S
	EvSetContent        = "setContent"        // C
	EvShare             = "share"             // C
	EvFork              = "fork"              // C
	EvVerificationToken = "verificationToken" // C
	EvSetLockState      = "setContentLockState"
	EvSetExecState      = "setScriptExecutionState"
	EvSetChallenge      = "setVerificationChallenge"
	EvShared            = "shared"
	EvForked            = "forked"
	EvError             = "error"
)

// Event is one protocol message.
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// ExecStatePayload is the client-facing projection of the execution state.
type ExecStatePayload struct {
	IsProcessing bool `json:"isProcessing"`
	IsRunning    bool `json:"isRunning"`
}

// Notifier delivers events to connections of a session. Implementations
// must preserve per-connection ordering of Broadcast calls.
type Notifier interface {
	// Send delivers an event to a single connection.
	Send(connID id.ConnID, ev Event)
	// Broadcast delivers an event to every connection attached to the
	// fiddle's session.
	Broadcast(fiddleID string, ev Event)
}

// TitleEvent announces the current title.
func TitleEvent(title string) Event {
	return Event{Name: EvSetTitle, Data: title}
}

// LockEvent announces the current lock state.
func LockEvent(locked bool) Event {
	return Event{Name: EvSetLockState, Data: locked}
}

// ExecStateEvent announces the current execution state.
func ExecStateEvent(state ExecState) Event {
	return Event{Name: EvSetExecState, Data: ExecStatePayload{
		IsProcessing: state == Processing,
		IsRunning:    state == Running,
	}}
}

// ChallengeEvent carries the challenge reference a client needs to render
// the verification provider's widget.
func ChallengeEvent(ref string) Event {
	return Event{Name: EvSetChallenge, Data: ref}
}

// SharedEvent announces a successful publish.
func SharedEvent(shareURL string) Event {
	return Event{Name: EvShared, Data: shareURL}
}

// ForkedEvent tells the forking connection its copy is ready.
func ForkedEvent(previousTitle string) Event {
	return Event{Name: EvForked, Data: previousTitle}
}
