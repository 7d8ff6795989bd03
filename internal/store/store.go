// To handle all database interactions. This is our
// data access layer, keeping SQL queries separate from business logic.

package store

import (
	"database/sql"
	"errors"
	"strings"
)

// ErrNotFound is returned when a lookup or update matches no row.
var ErrNotFound = errors.New("not found")

// Store provides all functions to interact with the database.
type Store struct {
	db *sql.DB
}

// New creates a new Store instance.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Keyword lists are stored newline separated, one keyword per line.
func joinKeywords(words []string) string {
	cleaned := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			cleaned = append(cleaned, w)
		}
	}
	return strings.Join(cleaned, "\n")
}

func splitKeywords(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
