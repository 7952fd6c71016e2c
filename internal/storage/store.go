package storage

import (
	"context"
	"errors"

	"github.com/pawnfiddle/backend/internal/domain/fiddle"
)

// ErrNotFound is returned when no fiddle exists under the requested id.
var ErrNotFound = errors.New("fiddle not found")

// Store is durable keyed storage for fiddle documents. Individual records
// are only ever written by their owning session orchestrator or by the fork
// transaction creating a new record.
type Store interface {
	// Get returns the document stored under id, or ErrNotFound.
	Get(ctx context.Context, id string) (*fiddle.Fiddle, error)
	// Put writes the document under its own id, creating or replacing it.
	Put(ctx context.Context, f *fiddle.Fiddle) error
	// Exists reports whether a document is stored under id.
	Exists(ctx context.Context, id string) (bool, error)
}
