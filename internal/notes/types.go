package notes

import (
	"time"
)

// Note represents a persisted note. AuthorID is assigned at creation from
// the authenticated principal and never changes afterwards.
type Note struct {
	ID        string
	AuthorID  string
	Title     string
	Text      string
	Slug      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CreateParams contains the accepted input fields for creating a note.
// There is intentionally no author field here; the author always comes
// from the authenticated principal, never from form input.
type CreateParams struct {
	Title string
	Text  string
	Slug  string // optional; derived from Title when empty
}

// UpdateParams contains the accepted input fields for editing a note.
// Updates are a full replace of title, text and slug.
type UpdateParams struct {
	Title string
	Text  string
	Slug  string // optional; derived from Title when empty
}
