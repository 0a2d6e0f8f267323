package db

import (
	"path/filepath"
	"testing"
)

func TestOpen_CreatesDirAndReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "stations.db")

	conn, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := conn.Exec("INSERT INTO stations (token, name, frequency) VALUES (?, ?, ?)", "tok", "Bob", 987); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	conn.Close()

	// Reopening applies the schema again without touching existing rows.
	conn, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer conn.Close()

	var freq int
	if err := conn.QueryRow("SELECT frequency FROM stations WHERE token = ?", "tok").Scan(&freq); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if freq != 987 {
		t.Errorf("expected 987, got %d", freq)
	}
}

func TestOpen_DuplicateAssignmentIgnored(t *testing.T) {
	conn, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	for _, freq := range []int{987, 1001} {
		if _, err := conn.Exec("INSERT INTO stations (token, name, frequency) VALUES (?, ?, ?)", "tok", "Bob", freq); err != nil {
			t.Fatalf("insert failed: %v", err)
		}
	}

	var count, freq int
	if err := conn.QueryRow("SELECT COUNT(*), MIN(frequency) FROM stations").Scan(&count, &freq); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 || freq != 987 {
		t.Errorf("expected the first assignment only, got count=%d frequency=%d", count, freq)
	}
}
