package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
	"github.com/pawnfiddle/backend/internal/infrastructure/monitoring"
	"github.com/pawnfiddle/backend/internal/shared/id"
	"github.com/pawnfiddle/backend/internal/storage"
)

// Deps are the collaborators a Registry wires into every session.
type Deps struct {
	Store        Store
	Runtime      Runtime
	Gate         Verifier
	Notifier     Notifier
	Logger       *zap.Logger
	Metrics      *monitoring.Metrics
	RunTimeout   time.Duration
	ShareBaseURL string
}

// Registry owns the live sessions: exactly one orchestrator per fiddle id,
// created on first attach and collected when the last connection and the
// last pending async operation are gone.
type Registry struct {
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	byConn   map[id.ConnID]*Session

	stopJanitor chan struct{}
}

// idleTTL bounds how long an empty session (for example one just created
// by a fork, with no connections yet) stays resident.
const idleTTL = 10 * time.Minute

// NewRegistry creates a session registry.
func NewRegistry(deps Deps) *Registry {
	if deps.RunTimeout == 0 {
		deps.RunTimeout = 5 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := &Registry{
		deps:        deps,
		sessions:    make(map[string]*Session),
		byConn:      make(map[id.ConnID]*Session),
		stopJanitor: make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Close stops the background sweeper.
func (r *Registry) Close() {
	close(r.stopJanitor)
}

// Attach binds a connection to the session for fiddleID, creating the
// session (and, for a blank id, a brand-new fiddle) as needed. The caller
// should follow up with Session.Sync to resynchronize the new connection.
func (r *Registry) Attach(ctx context.Context, fiddleID string, connID id.ConnID) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[fiddleID]; ok && fiddleID != "" {
		s.attach(connID)
		r.byConn[connID] = s
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	// Load outside the registry lock; store reads can be slow.
	doc, persisted, err := r.loadOrCreate(ctx, fiddleID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Another connection may have raced us here; one orchestrator per id.
	s, ok := r.sessions[doc.ID]
	if !ok {
		s = newSession(r, doc, persisted)
		r.sessions[doc.ID] = s
		r.deps.Metrics.AddSessions(1)
	}
	s.attach(connID)
	r.byConn[connID] = s
	return s, nil
}

func (r *Registry) loadOrCreate(ctx context.Context, fiddleID string) (*fiddle.Fiddle, bool, error) {
	if fiddleID == "" {
		// A fresh, never-saved fiddle: persisted on first mutation.
		return &fiddle.Fiddle{
			ID:        id.NewFiddleID().String(),
			Title:     "Untitled fiddle",
			CreatedAt: time.Now().UTC(),
		}, false, nil
	}

	doc, err := r.deps.Store.Get(ctx, fiddleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, false, storage.ErrNotFound
		}
		return nil, false, err
	}
	return doc, true, nil
}

// Detach removes a connection from its session. The session's implicit
// stop and eventual collection are handled by the session itself.
func (r *Registry) Detach(connID id.ConnID) {
	r.mu.Lock()
	s, ok := r.byConn[connID]
	if ok {
		delete(r.byConn, connID)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	s.detach(connID)
	r.release(s)
}

// Lookup returns the session a connection is attached to.
func (r *Registry) Lookup(connID id.ConnID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	return s, ok
}

// Get returns the live session for a fiddle id, if any.
func (r *Registry) Get(fiddleID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[fiddleID]
	return s, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// adopt registers a pre-built session for a freshly forked fiddle. It
// starts with zero connections; the janitor collects it if nobody
// navigates to it.
func (r *Registry) adopt(doc *fiddle.Fiddle) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[doc.ID]; ok {
		return s
	}
	s := newSession(r, doc, true)
	r.sessions[doc.ID] = s
	r.deps.Metrics.AddSessions(1)
	return s
}

// release collects the session if it no longer has connections or pending
// operations. Safe to call any number of times.
func (r *Registry) release(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.mu.Lock()
	empty := s.emptyLocked()
	s.mu.Unlock()
	if !empty {
		return
	}

	if cur, ok := r.sessions[s.fiddleID]; ok && cur == s {
		delete(r.sessions, s.fiddleID)
		r.deps.Metrics.AddSessions(-1)
		r.deps.Logger.Debug("session collected", zap.String("fiddle", s.fiddleID))
	}
}

// janitor sweeps empty sessions past their idle TTL.
func (r *Registry) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopJanitor:
			return
		case <-ticker.C:
			r.sweep()
		}
	}
}

func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for fid, s := range r.sessions {
		s.mu.Lock()
		stale := s.emptyLocked() && time.Since(s.lastActive) >= idleTTL
		s.mu.Unlock()
		if stale {
			delete(r.sessions, fid)
			r.deps.Metrics.AddSessions(-1)
			r.deps.Logger.Debug("idle session swept", zap.String("fiddle", fid))
		}
	}
}
