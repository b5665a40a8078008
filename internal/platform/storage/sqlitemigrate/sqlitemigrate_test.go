package sqlitemigrate

import (
	"database/sql"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

func queryInt64(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var value int64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	return value
}

func TestApplyMigrationsRecordsApplied(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);\n-- +migrate Down\nDROP TABLE items;"),
		},
	}

	if err := ApplyMigrations(db, migrations, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 1 {
		t.Fatalf("expected 1 migration row, got %d", rows)
	}
	if _, err := db.Exec("INSERT INTO items(id) VALUES ('x')"); err != nil {
		t.Fatalf("migrated table should accept writes: %v", err)
	}
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"001_create.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);"),
		},
	}

	if err := ApplyMigrations(db, migrations, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if err := ApplyMigrations(db, migrations, ""); err != nil {
		t.Fatalf("re-apply should be a no-op: %v", err)
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 1 {
		t.Fatalf("expected single migration row after replay, got %d", rows)
	}
}

func TestApplyMigrationsOrdersLexically(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"002_add_column.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nALTER TABLE items ADD COLUMN label TEXT;"),
		},
		"001_create.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE items(id TEXT PRIMARY KEY);"),
		},
	}

	if err := ApplyMigrations(db, migrations, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if _, err := db.Exec("INSERT INTO items(id, label) VALUES ('x', 'y')"); err != nil {
		t.Fatalf("both migrations should have applied: %v", err)
	}
}

func TestExtractUpMigration(t *testing.T) {
	content := "-- +migrate Up\nCREATE TABLE a(x);\n-- +migrate Down\nDROP TABLE a;"
	up := ExtractUpMigration(content)
	if want := "\nCREATE TABLE a(x);\n"; up != want {
		t.Fatalf("up section = %q, want %q", up, want)
	}
	if got := ExtractUpMigration("CREATE TABLE b(x);"); got != "CREATE TABLE b(x);" {
		t.Fatalf("unmarked content = %q, want whole content", got)
	}
}
