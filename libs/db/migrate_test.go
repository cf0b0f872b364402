package db

import (
	"testing"
	"testing/fstest"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/010_indexes.sql":      {Data: []byte("CREATE INDEX x ON t (a);")},
		"migrations/002_outbox.sql":       {Data: []byte("CREATE TABLE outbox_events ();")},
		"migrations/001_appointments.sql": {Data: []byte("CREATE TABLE appointments ();")},
		"migrations/README.md":            {Data: []byte("notes")},
		"migrations/seed.sql":             {Data: []byte("-- no version prefix")},
	}

	migrations, err := LoadMigrations(fsys, "migrations")
	if err != nil {
		t.Fatalf("LoadMigrations: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Fatalf("expected version %d at %d, got %d", v, i, migrations[i].Version)
		}
	}
	if migrations[0].SQL != "CREATE TABLE appointments ();" {
		t.Fatalf("unexpected sql: %q", migrations[0].SQL)
	}
}

func TestLoadMigrationsRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"m/001_a.sql": {Data: []byte("SELECT 1;")},
		"m/001_b.sql": {Data: []byte("SELECT 2;")},
	}
	if _, err := LoadMigrations(fsys, "m"); err == nil {
		t.Fatal("expected duplicate version error")
	}
}
