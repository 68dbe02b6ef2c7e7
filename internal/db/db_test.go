package db

import (
	"path/filepath"
	"testing"
)

func newTestDatabase(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpenSeedsStatsRow(t *testing.T) {
	database := newTestDatabase(t)

	stats, err := database.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalUsers != 0 || stats.TotalSessions != 0 {
		t.Fatalf("fresh database should start at zero, got %+v", stats)
	}
}

func TestIncrementUsersAndSessions(t *testing.T) {
	database := newTestDatabase(t)

	for i := 0; i < 3; i++ {
		if err := database.IncrementUsers(); err != nil {
			t.Fatalf("IncrementUsers() error = %v", err)
		}
	}
	if err := database.IncrementSessions(); err != nil {
		t.Fatalf("IncrementSessions() error = %v", err)
	}

	stats, err := database.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalUsers != 3 {
		t.Errorf("TotalUsers = %d, want 3", stats.TotalUsers)
	}
	if stats.TotalSessions != 1 {
		t.Errorf("TotalSessions = %d, want 1", stats.TotalSessions)
	}
}

func TestAddFeedback(t *testing.T) {
	database := newTestDatabase(t)

	if err := database.AddFeedback(5, "works great over wifi"); err != nil {
		t.Fatalf("AddFeedback() error = %v", err)
	}
	if err := database.AddFeedback(1, ""); err != nil {
		t.Fatalf("AddFeedback() with empty comment error = %v", err)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "reopen.db")

	first, err := Open(dbPath)
	if err != nil {
		t.Fatalf("first Open() error = %v", err)
	}
	if err := first.IncrementUsers(); err != nil {
		t.Fatalf("IncrementUsers() error = %v", err)
	}
	first.Close()

	second, err := Open(dbPath)
	if err != nil {
		t.Fatalf("second Open() error = %v", err)
	}
	defer second.Close()

	stats, err := second.GetStats()
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats.TotalUsers != 1 {
		t.Errorf("reopened database lost state: TotalUsers = %d, want 1", stats.TotalUsers)
	}
}
