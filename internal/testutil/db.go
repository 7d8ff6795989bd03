package testutil

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3" // Blank import for sql driver
	"github.com/vrsandeep/mediaflow/internal/db"
	"github.com/vrsandeep/mediaflow/migrations"
)

// SetupTestDB creates an in-memory SQLite database and applies all migrations.
// It returns the database connection, ready for use in tests.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	database, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}
	// Every connection to ":memory:" is a fresh database, so pin the pool to one.
	database.SetMaxOpenConns(1)

	t.Cleanup(func() {
		database.Close()
	})

	if err := db.RunMigrations(database, migrations.FS); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	return database
}
