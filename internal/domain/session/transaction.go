package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
	"github.com/pawnfiddle/backend/internal/shared/id"
)

// Share publishes the fiddle: validates the verification token, persists
// the content under a freshly minted public share id, locks the source,
// and broadcasts the share URL. The pendingShare guard makes the
// transaction exactly-once with respect to concurrent share requests.
//
// When token is empty the call suspends until the connection delivers one
// or the gate's wait limit elapses. Verification and persistence run to
// completion even if the connection drops meanwhile: publishing changes
// durable state.
func (s *Session) Share(ctx context.Context, connID id.ConnID, token string) error {
	s.mu.Lock()
	if s.locked {
		s.mu.Unlock()
		return ErrLocked
	}
	if s.pending {
		s.mu.Unlock()
		return ErrShareInFlight
	}
	s.pending = true
	s.pendingOps++
	s.lastActive = time.Now()
	s.mu.Unlock()

	err := s.shareTx(ctx, connID, token)
	if err != nil {
		s.reg.deps.Metrics.RecordShare("rejected")
	} else {
		s.reg.deps.Metrics.RecordShare("ok")
	}

	s.mu.Lock()
	s.pending = false
	s.pendingOps--
	s.mu.Unlock()
	s.reg.release(s)
	return err
}

func (s *Session) shareTx(ctx context.Context, connID id.ConnID, token string) error {
	deps := s.reg.deps

	if token == "" {
		var err error
		token, err = deps.Gate.AwaitToken(ctx, connID)
		if err != nil {
			return err
		}
	}
	if err := deps.Gate.Validate(ctx, token); err != nil {
		return err
	}

	// Publishing mutates durable state; do not tie it to the connection.
	persistCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	shareID := id.NewShareID()
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := deps.Store.Put(persistCtx, &fiddle.Fiddle{
		ID:        shareID.String(),
		Title:     s.title,
		Script:    s.script,
		Locked:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to persist share: %w", err)
	}

	s.locked = true
	if err := s.persistLocked(persistCtx); err != nil {
		// The public copy exists but the source could not be locked
		// durably; keep the in-memory lock so the session stays
		// consistent for its viewers.
		s.log.Error("failed to persist lock state", zap.Error(err))
	}

	shareURL := fmt.Sprintf("%s/%s", deps.ShareBaseURL, shareID)
	s.log.Info("fiddle shared", zap.String("share", shareID.String()))

	deps.Notifier.Broadcast(s.fiddleID, LockEvent(true))
	deps.Notifier.Broadcast(s.fiddleID, SharedEvent(shareURL))
	return nil
}

// Fork clones a published fiddle into a brand-new unlocked document with a
// fresh id and its own orchestrator. Only the forking connection is
// notified; the new session starts with zero connections until the client
// navigates to it.
func (s *Session) Fork(ctx context.Context, connID id.ConnID) error {
	s.mu.Lock()
	if !s.locked {
		s.mu.Unlock()
		return ErrNotLocked
	}
	if s.forking[connID] {
		s.mu.Unlock()
		return ErrForkInFlight
	}
	s.forking[connID] = true
	s.pendingOps++
	title, script := s.title, s.script
	s.lastActive = time.Now()
	s.mu.Unlock()

	err := s.forkTx(ctx, connID, title, script)

	s.mu.Lock()
	delete(s.forking, connID)
	s.pendingOps--
	s.mu.Unlock()
	s.reg.release(s)
	return err
}

func (s *Session) forkTx(ctx context.Context, connID id.ConnID, title, script string) error {
	deps := s.reg.deps

	now := time.Now().UTC()
	doc := &fiddle.Fiddle{
		ID:        id.NewFiddleID().String(),
		Title:     title,
		Script:    script,
		Locked:    false,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := deps.Store.Put(ctx, doc); err != nil {
		return fmt.Errorf("failed to persist fork: %w", err)
	}

	s.reg.adopt(doc)
	deps.Metrics.RecordFork()
	s.log.Info("fiddle forked",
		zap.String("conn", connID.String()),
		zap.String("new_fiddle", doc.ID),
	)

	deps.Notifier.Send(connID, ForkedEvent(title))
	return nil
}
