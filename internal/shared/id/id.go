// Package id provides centralized ID generation for the backend.
//
// Fiddle, share, connection, and sandbox identifiers are prefixed ULIDs:
// lexicographically sortable, unique across services, and readable in logs.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// FiddleID identifies a persisted fiddle document.
type FiddleID string

// ShareID identifies a published (immutable) fiddle.
type ShareID string

// ConnID identifies one attached browser connection.
type ConnID string

// SandboxID identifies one ephemeral execution environment.
type SandboxID string

const (
	FiddlePrefix  = "fdl"
	SharePrefix   = "shr"
	ConnPrefix    = "conn"
	SandboxPrefix = "sbx"
)

// Generator generates ULIDs with optional prefixes.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator with secure entropy.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string.
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewFiddleID generates a new fiddle document ID.
func NewFiddleID() FiddleID {
	return FiddleID(Default().GenerateWithPrefix(FiddlePrefix))
}

// NewShareID generates a new public share ID.
func NewShareID() ShareID {
	return ShareID(Default().GenerateWithPrefix(SharePrefix))
}

// NewConnID generates a new connection ID.
func NewConnID() ConnID {
	return ConnID(Default().GenerateWithPrefix(ConnPrefix))
}

// NewSandboxID generates a new sandbox ID.
func NewSandboxID() SandboxID {
	return SandboxID(Default().GenerateWithPrefix(SandboxPrefix))
}

func (id FiddleID) String() string  { return string(id) }
func (id ShareID) String() string   { return string(id) }
func (id ConnID) String() string    { return string(id) }
func (id SandboxID) String() string { return string(id) }

// IsValid checks if an ID string carries a valid ULID payload.
func IsValid(id string) bool {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	_, err := ulid.Parse(id)
	return err == nil
}
