// Package notes implements the note store and the slug policy.
//
// The store scopes every per-note lookup to an author. A note owned by a
// different author is reported as not found, the same as a missing slug,
// so existence of someone else's note is never observable. Slug uniqueness
// is global across all authors and is enforced by the UNIQUE constraint on
// the slug column, making the check atomic with the write.
package notes

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inknote/inknote/internal/db"
	"github.com/inknote/inknote/internal/errs"
)

// Store handles note CRUD operations against the shared database.
type Store struct {
	db *db.DB
}

// NewStore creates a new note store.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

// Create persists a new note owned by authorID. The slug is derived from
// the title when absent. Returns a conflict error carrying the submitted
// slug plus Warning when the slug is already taken by any note.
func (s *Store) Create(ctx context.Context, params CreateParams, authorID string) (*Note, error) {
	if params.Title == "" {
		return nil, errs.New(errs.InvalidArgument, "title is required")
	}
	if authorID == "" {
		return nil, errs.New(errs.InvalidArgument, "author is required")
	}

	noteSlug, err := resolveSlug(params.Slug, params.Title)
	if err != nil {
		return nil, err
	}

	noteID := uuid.New().String()
	now := time.Now().UTC()

	_, err = s.db.SQL().ExecContext(ctx,
		`INSERT INTO notes (id, author_id, title, body, slug, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		noteID, authorID, params.Title, params.Text, noteSlug, now.Unix(), now.Unix(),
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errs.Wrap(errs.Conflict, noteSlug+Warning, err)
		}
		return nil, fmt.Errorf("failed to create note: %w", err)
	}

	return &Note{
		ID:        noteID,
		AuthorID:  authorID,
		Title:     params.Title,
		Text:      params.Text,
		Slug:      noteSlug,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// ListByAuthor returns exactly the notes owned by authorID in insertion
// order. Notes from other authors never appear.
func (s *Store) ListByAuthor(ctx context.Context, authorID string) ([]Note, error) {
	rows, err := s.db.SQL().QueryContext(ctx,
		`SELECT id, author_id, title, body, slug, created_at, updated_at
		 FROM notes WHERE author_id = ? ORDER BY rowid ASC`,
		authorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var list []Note
	for rows.Next() {
		note, err := scanNote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		list = append(list, *note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return list, nil
}

// GetBySlugForAuthor looks up a note by slug, scoped to its author.
// A slug that exists but belongs to a different author yields the same
// not-found error as a slug that doesn't exist at all.
func (s *Store) GetBySlugForAuthor(ctx context.Context, slug, authorID string) (*Note, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT id, author_id, title, body, slug, created_at, updated_at
		 FROM notes WHERE slug = ? AND author_id = ?`,
		slug, authorID,
	)

	note, err := scanNote(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.New(errs.NotFound, "note not found")
		}
		return nil, fmt.Errorf("failed to read note: %w", err)
	}
	return note, nil
}

// Update replaces title, text and slug of the note with the given id.
// The author is never touched. Keeping the note's existing slug does not
// conflict with itself; taking another note's slug returns the same
// conflict error as Create.
func (s *Store) Update(ctx context.Context, noteID string, params UpdateParams) (*Note, error) {
	if params.Title == "" {
		return nil, errs.New(errs.InvalidArgument, "title is required")
	}

	noteSlug, err := resolveSlug(params.Slug, params.Title)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	res, err := s.db.SQL().ExecContext(ctx,
		`UPDATE notes SET title = ?, body = ?, slug = ?, updated_at = ? WHERE id = ?`,
		params.Title, params.Text, noteSlug, now.Unix(), noteID,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, errs.Wrap(errs.Conflict, noteSlug+Warning, err)
		}
		return nil, fmt.Errorf("failed to update note: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update note: %w", err)
	}
	if affected == 0 {
		return nil, errs.New(errs.NotFound, "note not found")
	}

	return s.getByID(ctx, noteID)
}

// Delete permanently removes the note with the given id. Ownership is
// checked upstream via GetBySlugForAuthor.
func (s *Store) Delete(ctx context.Context, noteID string) error {
	res, err := s.db.SQL().ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, noteID)
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete note: %w", err)
	}
	if affected == 0 {
		return errs.New(errs.NotFound, "note not found")
	}
	return nil
}

// Count returns the total number of notes across all authors.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.SQL().QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count notes: %w", err)
	}
	return count, nil
}

func (s *Store) getByID(ctx context.Context, noteID string) (*Note, error) {
	row := s.db.SQL().QueryRowContext(ctx,
		`SELECT id, author_id, title, body, slug, created_at, updated_at
		 FROM notes WHERE id = ?`,
		noteID,
	)
	note, err := scanNote(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errs.New(errs.NotFound, "note not found")
		}
		return nil, fmt.Errorf("failed to read note: %w", err)
	}
	return note, nil
}

// resolveSlug validates an explicit slug or derives one from the title.
// Explicit slugs must already be in the slug alphabet; they are never
// normalized, because the submitted string is what the conflict message
// and the note's URL have to carry back verbatim.
func resolveSlug(explicit, title string) (string, error) {
	if explicit != "" {
		if !IsValidSlug(explicit) {
			return "", errs.New(errs.InvalidArgument, InvalidSlugMessage)
		}
		return explicit, nil
	}
	derived := DeriveSlug(title)
	if derived == "" {
		return "", errs.New(errs.InvalidArgument, "slug is required")
	}
	return derived, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(row rowScanner) (*Note, error) {
	var (
		note      Note
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&note.ID, &note.AuthorID, &note.Title, &note.Text, &note.Slug, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	note.CreatedAt = time.Unix(createdAt, 0).UTC()
	note.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &note, nil
}
