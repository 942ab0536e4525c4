package repository

import (
	"testing"

	"github.com/foxzi/pageforge/internal/db"
)

// setupTestDB creates an in-memory SQLite database with all migrations applied
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	d, err := db.Open("sqlite3", ":memory:", db.Options{})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { d.Close() })

	if err := d.Migrate(); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}

	return d
}
