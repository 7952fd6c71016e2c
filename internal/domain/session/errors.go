package session

import "errors"

var (
	// ErrLocked: mutation attempted on a locked (published) fiddle.
	ErrLocked = errors.New("fiddle is locked")
	// ErrAlreadyBusy: a run is already in flight for the session.
	ErrAlreadyBusy = errors.New("script already running")
	// ErrShareInFlight: a share transaction is already pending.
	ErrShareInFlight = errors.New("share already in progress")
	// ErrNotLocked: fork requested on an unpublished fiddle.
	ErrNotLocked = errors.New("only published fiddles can be forked")
	// ErrForkInFlight: the connection already has a fork in progress.
	ErrForkInFlight = errors.New("fork already in progress")
)
