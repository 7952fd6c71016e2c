// Package fiddle defines the persisted fiddle document.
package fiddle

import "time"

// Artifact names packaged by the download endpoint. Every persisted fiddle
// consists of exactly these two artifacts.
const (
	MetaArtifact   = "script.json"
	SourceArtifact = "script.js"
)

// Fiddle is the durable document a user edits: a titled script plus its
// lock state. A locked fiddle is immutable and can only be forked.
type Fiddle struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Script    string    `json:"script,omitempty"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Meta is the script.json artifact: the document without its source text.
type Meta struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Meta returns the metadata view of the document.
func (f *Fiddle) Meta() Meta {
	return Meta{
		ID:        f.ID,
		Title:     f.Title,
		Locked:    f.Locked,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}
