package storage

import (
	"context"
	"path/filepath"
	"testing"
)

func TestOpenSQLiteBootstrapsSteps(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "nested", "pwb.db")
	db, err := Open(context.Background(), DriverSQLite, dbPath, "")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?;", "steps").Scan(&name); err != nil {
		t.Fatalf("steps table missing: %v", err)
	}

	// Bootstrapping twice is harmless.
	if err := Bootstrap(context.Background(), db, DriverSQLite); err != nil {
		t.Fatalf("second Bootstrap: %v", err)
	}
}

func TestOpenRejectsBadConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		driver string
		path   string
		dsn    string
	}{
		{name: "unknown driver", driver: "oracle"},
		{name: "sqlite without path", driver: DriverSQLite},
		{name: "postgres without dsn", driver: DriverPostgres},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			db, err := Open(context.Background(), tc.driver, tc.path, tc.dsn)
			if err == nil {
				_ = db.Close()
				t.Fatal("expected error")
			}
		})
	}
}
