package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"

	"github.com/louisbranch/actionsync/internal/platform/storage/sqlitemigrate"
	_ "modernc.org/sqlite"
)

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(FS, ".")
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected migrations to be embedded")
	}
	if entries[0].Name() != "001_attempts.sql" {
		t.Fatalf("expected first migration 001_attempts.sql, got %s", entries[0].Name())
	}
}

func TestAttemptsMigrationCreatesLedgerSchema(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	defer db.Close()

	for range 2 {
		if err := sqlitemigrate.ApplyMigrations(context.Background(), db, FS, ""); err != nil {
			t.Fatalf("apply migrations: %v", err)
		}
	}

	var applied int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE name = '001_attempts.sql'").Scan(&applied); err != nil {
		t.Fatalf("count applied: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied rows = %d, want 1", applied)
	}

	if _, err := db.Exec(`INSERT INTO sync_attempts (delivery_id, source, consumer, outcome, created_at) VALUES ('d-1', 'amqp', 'actionsync', 'rejected', 1)`); err != nil {
		t.Fatalf("insert attempt: %v", err)
	}
	var stage, body string
	if err := db.QueryRow("SELECT stage, body FROM sync_attempts WHERE delivery_id = 'd-1'").Scan(&stage, &body); err != nil {
		t.Fatalf("read attempt: %v", err)
	}
	if stage != "" || body != "" {
		t.Fatalf("defaults = (%q, %q), want empty", stage, body)
	}

	var indexes int
	if err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND tbl_name = 'sync_attempts' AND name LIKE 'idx_sync_attempts_%'").Scan(&indexes); err != nil {
		t.Fatalf("count indexes: %v", err)
	}
	if indexes != 3 {
		t.Fatalf("indexes = %d, want 3", indexes)
	}
}
