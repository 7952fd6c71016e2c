package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
	"github.com/pawnfiddle/backend/internal/shared/id"
)

// shareDoc finds the published copy a share created.
func (f *fakeStore) shareDoc(t *testing.T, sourceID string) *fiddle.Fiddle {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for fid, doc := range f.docs {
		if fid != sourceID && strings.HasPrefix(fid, "shr_") {
			cp := *doc
			return &cp
		}
	}
	t.Fatal("no share document persisted")
	return nil
}

func TestShareLocksAndPublishes(t *testing.T) {
	e := newEnv(t)
	s, connID := e.attachNew(t)
	require.NoError(t, s.SetTitle(context.Background(), "Demo"))
	require.NoError(t, s.SetContent(context.Background(), "print(1)"))

	require.NoError(t, s.Share(context.Background(), connID, "tok-1"))

	assert.True(t, s.Locked())
	assert.Equal(t, []string{"tok-1"}, e.verifier.validated)

	pub := e.store.shareDoc(t, s.ID())
	assert.True(t, pub.Locked)
	assert.Equal(t, "Demo", pub.Title)
	assert.Equal(t, "print(1)", pub.Script)

	src := e.store.get(t, s.ID())
	assert.True(t, src.Locked)

	bc := e.notifier.broadcasts()
	assert.Contains(t, bc, LockEvent(true))
	shared := e.notifier.waitFor(t, EvShared)
	assert.Equal(t, "https://fiddle.test/s/"+pub.ID, shared.Data)
}

func TestShareRejectedToken(t *testing.T) {
	e := newEnv(t)
	e.verifier.validateErr = errors.New("verification rejected")
	s, connID := e.attachNew(t)
	require.NoError(t, s.SetContent(context.Background(), "print(1)"))

	err := s.Share(context.Background(), connID, "bad")
	require.Error(t, err)

	assert.False(t, s.Locked())
	assert.Equal(t, 1, e.store.len(), "only the source document may exist")
	assert.NotContains(t, e.notifier.broadcasts(), LockEvent(true))

	// The session is usable again after the rejection.
	e.verifier.validateErr = nil
	require.NoError(t, s.Share(context.Background(), connID, "good"))
	assert.True(t, s.Locked())
}

func TestShareAwaitsDeliveredToken(t *testing.T) {
	e := newEnv(t)
	s, connID := e.attachNew(t)
	require.NoError(t, s.SetContent(context.Background(), "print(1)"))

	done := make(chan error, 1)
	go func() { done <- s.Share(context.Background(), connID, "") }()

	e.verifier.tokens <- "late-token"

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("share never completed")
	}
	assert.True(t, s.Locked())
	assert.Equal(t, []string{"late-token"}, e.verifier.validated)
}

func TestShareTokenWaitCancelled(t *testing.T) {
	e := newEnv(t)
	s, connID := e.attachNew(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Share(ctx, connID, "") }()

	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("share never returned")
	}
	assert.False(t, s.Locked())
}

func TestConcurrentShareSingleWinner(t *testing.T) {
	e := newEnv(t)
	gate := make(chan struct{})
	e.verifier.validateGate = gate
	s, _ := e.attachNew(t)
	require.NoError(t, s.SetContent(context.Background(), "print(1)"))

	conn1, conn2 := id.NewConnID(), id.NewConnID()
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); errs <- s.Share(context.Background(), conn1, "t1") }()
	// Let the first transaction claim the pending slot.
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pending
	}, time.Second, time.Millisecond)
	go func() { defer wg.Done(); errs <- s.Share(context.Background(), conn2, "t2") }()

	// The loser fails fast, before the winner finishes validating.
	assert.ErrorIs(t, <-errs, ErrShareInFlight)
	close(gate)
	wg.Wait()
	close(errs)
	require.NoError(t, <-errs)

	assert.True(t, s.Locked())
	e.store.shareDoc(t, s.ID())
	assert.Equal(t, 2, e.store.len(), "exactly one published copy")
}

func TestShareCompletesAfterDisconnect(t *testing.T) {
	e := newEnv(t)
	gate := make(chan struct{})
	e.verifier.validateGate = gate
	s, connID := e.attachNew(t)
	require.NoError(t, s.SetContent(context.Background(), "print(1)"))

	done := make(chan error, 1)
	go func() { done <- s.Share(context.Background(), connID, "tok") }()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pending
	}, time.Second, time.Millisecond)

	// The tab goes away while verification is still in flight. Publishing
	// changes durable state, so the transaction runs to completion anyway.
	e.reg.Detach(connID)
	close(gate)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("share never completed")
	}

	pub := e.store.shareDoc(t, s.ID())
	assert.True(t, pub.Locked)
	assert.Equal(t, "print(1)", pub.Script)
	assert.True(t, e.store.get(t, s.ID()).Locked)
	assert.Equal(t, 2, e.store.len(), "exactly one published copy")
}

func TestForkCreatesUnlockedCopy(t *testing.T) {
	e := newEnv(t)
	s, connID := e.attachLocked(t, "Demo", "print(1)")

	require.NoError(t, s.Fork(context.Background(), connID))

	evs := e.notifier.sentTo(connID)
	require.NotEmpty(t, evs)
	forked := evs[len(evs)-1]
	assert.Equal(t, ForkedEvent("Demo"), forked)

	// No broadcast to the source session beyond the fork notification.
	assert.NotContains(t, e.notifier.broadcasts(), forked)

	// Find the new document: unlocked, fresh id, copied content.
	e.store.mu.Lock()
	var clone *fiddle.Fiddle
	for fid, doc := range e.store.docs {
		if fid != s.ID() {
			cp := *doc
			clone = &cp
		}
	}
	e.store.mu.Unlock()
	require.NotNil(t, clone)
	assert.False(t, clone.Locked)
	assert.Equal(t, "Demo", clone.Title)
	assert.Equal(t, "print(1)", clone.Script)
	assert.True(t, strings.HasPrefix(clone.ID, "fdl_"))

	// The clone's orchestrator is live and idle.
	cs, ok := e.reg.Get(clone.ID)
	require.True(t, ok)
	assert.Equal(t, Idle, cs.State())
	assert.False(t, cs.Locked())
}

func TestForkRequiresLock(t *testing.T) {
	e := newEnv(t)
	s, connID := e.attachNew(t)
	assert.ErrorIs(t, s.Fork(context.Background(), connID), ErrNotLocked)
}

func TestForkInFlightPerConnection(t *testing.T) {
	e := newEnv(t)
	gate := make(chan struct{})
	s, connID := e.attachLocked(t, "Demo", "print(1)")
	e.store.mu.Lock()
	e.store.putGate = gate
	e.store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- s.Fork(context.Background(), connID) }()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.forking[connID]
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, s.Fork(context.Background(), connID), ErrForkInFlight)

	close(gate)
	require.NoError(t, <-done)
}
