package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
)

func newTestFS(t *testing.T) *FS {
	t.Helper()
	s, err := NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	in := &fiddle.Fiddle{
		ID:     "fdl_test1",
		Title:  "Demo",
		Script: "main() { print(\"hi\"); }",
		Locked: false,
	}
	if err := s.Put(ctx, in); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	out, err := s.Get(ctx, "fdl_test1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if out.Title != "Demo" {
		t.Errorf("expected title 'Demo', got %q", out.Title)
	}
	if out.Script != in.Script {
		t.Errorf("script mismatch: %q", out.Script)
	}
	if out.Locked {
		t.Error("expected unlocked")
	}
}

func TestGetUnknownID(t *testing.T) {
	s := newTestFS(t)

	_, err := s.Get(context.Background(), "fdl_missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestExists(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "fdl_x")
	if err != nil || ok {
		t.Fatalf("expected not to exist, got ok=%v err=%v", ok, err)
	}

	if err := s.Put(ctx, &fiddle.Fiddle{ID: "fdl_x", Title: "t"}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	ok, err = s.Exists(ctx, "fdl_x")
	if err != nil || !ok {
		t.Fatalf("expected to exist, got ok=%v err=%v", ok, err)
	}
}

func TestPutWritesBothArtifacts(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS failed: %v", err)
	}

	err = s.Put(context.Background(), &fiddle.Fiddle{ID: "fdl_a", Title: "A", Script: "x"})
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	for _, name := range []string{fiddle.MetaArtifact, fiddle.SourceArtifact} {
		if _, err := os.Stat(filepath.Join(dir, "fdl_a", name)); err != nil {
			t.Errorf("expected artifact %s: %v", name, err)
		}
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	for _, bad := range []string{"", "../etc", "a/b", "a\\b", ".."} {
		if _, err := s.Get(ctx, bad); err == nil || errors.Is(err, ErrNotFound) {
			t.Errorf("expected invalid-id error for %q, got %v", bad, err)
		}
	}
}

func TestLockedSurvivesRoundTrip(t *testing.T) {
	s := newTestFS(t)
	ctx := context.Background()

	if err := s.Put(ctx, &fiddle.Fiddle{ID: "fdl_l", Title: "L", Locked: true}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	out, err := s.Get(ctx, "fdl_l")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !out.Locked {
		t.Error("expected locked to survive round trip")
	}
}
