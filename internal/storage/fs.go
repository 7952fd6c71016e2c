package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
)

// FS stores each fiddle as a directory of two artifacts: script.json
// (metadata) and script.js (source text).
type FS struct {
	root string
}

// NewFS creates a filesystem store rooted at dir.
func NewFS(dir string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FS{root: dir}, nil
}

// Get returns the document stored under id, or ErrNotFound.
func (s *FS) Get(ctx context.Context, id string) (*fiddle.Fiddle, error) {
	dir, err := s.fiddleDir(id)
	if err != nil {
		return nil, err
	}

	metaRaw, err := os.ReadFile(filepath.Join(dir, fiddle.MetaArtifact))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var meta fiddle.Meta
	if err := sonic.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}

	script, err := os.ReadFile(filepath.Join(dir, fiddle.SourceArtifact))
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	return &fiddle.Fiddle{
		ID:        meta.ID,
		Title:     meta.Title,
		Script:    string(script),
		Locked:    meta.Locked,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}

// Put writes both artifacts. The metadata file is written last so a
// half-written fiddle is never visible to Get.
func (s *FS) Put(ctx context.Context, f *fiddle.Fiddle) error {
	dir, err := s.fiddleDir(f.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create fiddle dir: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, fiddle.SourceArtifact), []byte(f.Script), 0o644); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}

	meta := f.Meta()
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now().UTC()
	}
	metaRaw, err := sonic.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, fiddle.MetaArtifact), metaRaw, 0o644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Exists reports whether a document is stored under id.
func (s *FS) Exists(ctx context.Context, id string) (bool, error) {
	dir, err := s.fiddleDir(id)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, fiddle.MetaArtifact))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// fiddleDir resolves the directory for an id, rejecting path traversal.
func (s *FS) fiddleDir(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid fiddle id %q", id)
	}
	return filepath.Join(s.root, id), nil
}
