package migrate

import (
	"testing"

	"codeblue/internal/db"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	if err := Migrate(conn); err != nil {
		t.Fatalf("first run: %v", err)
	}
	v, err := userVersion(conn)
	if err != nil {
		t.Fatal(err)
	}
	if v != 1 {
		t.Fatalf("user_version: want 1, got %d", v)
	}

	// A second run must skip every applied revision; re-running the DDL
	// would fail on the existing tables.
	if err := Migrate(conn); err != nil {
		t.Fatalf("second run: %v", err)
	}

	for _, table := range []string{"members", "incidents", "incident_entries", "events"} {
		var name string
		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}
