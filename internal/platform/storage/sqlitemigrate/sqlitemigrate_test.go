package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

const (
	ledgerUp = "-- +migrate Up\nCREATE TABLE ledger(id INTEGER PRIMARY KEY, outcome TEXT NOT NULL);\n-- +migrate Down\nDROP TABLE ledger;"
	indexUp  = "-- +migrate Up\nCREATE INDEX ledger_outcome ON ledger (outcome);"
)

func TestApplyMigrationsRunsFilesInOrderOnce(t *testing.T) {
	db := openMemoryDB(t)
	migrations := fstest.MapFS{
		"002_index.sql":  {Data: []byte(indexUp)},
		"001_ledger.sql": {Data: []byte(ledgerUp)},
		"README.md":      {Data: []byte("not a migration")},
	}

	for range 2 {
		if err := ApplyMigrations(context.Background(), db, migrations, ""); err != nil {
			t.Fatalf("apply migrations: %v", err)
		}
	}

	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 2 {
		t.Fatalf("migration rows = %d, want 2", got)
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'ledger_outcome'"); got != 1 {
		t.Fatalf("index rows = %d, want 1", got)
	}
	if _, err := db.Exec("INSERT INTO ledger (outcome) VALUES ('acked')"); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestApplyMigrationsLeavesFailedFileUnrecorded(t *testing.T) {
	db := openMemoryDB(t)

	broken := fstest.MapFS{"001_ledger.sql": {Data: []byte("-- +migrate Up\nCREAT TABLE ledger(id INT);")}}
	if err := ApplyMigrations(context.Background(), db, broken, ""); err == nil {
		t.Fatal("expected broken migration to fail")
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 0 {
		t.Fatalf("migration rows = %d, want 0", got)
	}

	fixed := fstest.MapFS{"001_ledger.sql": {Data: []byte(ledgerUp)}}
	if err := ApplyMigrations(context.Background(), db, fixed, ""); err != nil {
		t.Fatalf("apply fixed migration: %v", err)
	}
	if got := countRows(t, db, "SELECT COUNT(*) FROM schema_migrations"); got != 1 {
		t.Fatalf("migration rows = %d, want 1", got)
	}
}

func TestApplyMigrationsKeysByRoot(t *testing.T) {
	db := openMemoryDB(t)
	migrations := fstest.MapFS{"sync/001_ledger.sql": {Data: []byte(ledgerUp)}}

	if err := ApplyMigrations(context.Background(), db, migrations, "sync"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	var name string
	if err := db.QueryRow("SELECT name FROM schema_migrations").Scan(&name); err != nil {
		t.Fatalf("read migration key: %v", err)
	}
	if name != "sync/001_ledger.sql" {
		t.Fatalf("migration key = %q, want %q", name, "sync/001_ledger.sql")
	}
}

func TestApplyMigrationsRejectsNilDB(t *testing.T) {
	if err := ApplyMigrations(context.Background(), nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected nil db error")
	}
}

func TestExtractUpMigration(t *testing.T) {
	cases := map[string]string{
		ledgerUp:    "\nCREATE TABLE ledger(id INTEGER PRIMARY KEY, outcome TEXT NOT NULL);\n",
		indexUp:     "\nCREATE INDEX ledger_outcome ON ledger (outcome);",
		"SELECT 1;": "SELECT 1;",
	}
	for content, want := range cases {
		if got := ExtractUpMigration(content); got != want {
			t.Fatalf("ExtractUpMigration(%q) = %q, want %q", content, got, want)
		}
	}
}

func TestIsAlreadyExistsError(t *testing.T) {
	if !IsAlreadyExistsError(errors.New("table ledger already exists")) {
		t.Fatal("expected already exists to be tolerated")
	}
	if IsAlreadyExistsError(errors.New("syntax error")) {
		t.Fatal("syntax errors are not tolerated")
	}
}

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	return db
}

func countRows(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var value int64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return value
}
