package repo

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"partner-bot/migrations"
)

func TestLoadMigrationsOrdersAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"002_withdrawals.sql":   {Data: []byte("CREATE TABLE b (id INT);")},
		"001_partners.sql":      {Data: []byte("CREATE TABLE a (id INT);")},
		"003_empty.sql":         {Data: []byte("  \n")},
		"README.md":             {Data: []byte("notes")},
		"sqlite/001_init.sql":   {Data: []byte("CREATE TABLE c (id INTEGER);")},
		"sqlite/000_pragma.txt": {Data: []byte("ignored")},
	}

	scripts, err := loadMigrations(fsys, postgresMigrations)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(scripts) != 2 || scripts[0].name != "001_partners.sql" || scripts[1].name != "002_withdrawals.sql" {
		t.Fatalf("unexpected postgres scripts %+v", scripts)
	}

	scripts, err = loadMigrations(fsys, sqliteMigrations)
	if err != nil {
		t.Fatalf("load sqlite: %v", err)
	}
	if len(scripts) != 1 || scripts[0].name != "001_init.sql" {
		t.Fatalf("unexpected sqlite scripts %+v", scripts)
	}
}

func TestSQLiteMigrationsAreRepeatable(t *testing.T) {
	ctx := context.Background()
	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "nested", "ledger.db"), testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)

	for i := 0; i < 2; i++ {
		if err := r.RunMigrations(ctx, migrations.Files); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}
	if _, err := r.ListPartners(ctx); err != nil {
		t.Fatalf("schema not usable: %v", err)
	}
}

func TestSQLiteBrokenMigrationLeavesNoTables(t *testing.T) {
	ctx := context.Background()
	r, err := NewSQLite(ctx, filepath.Join(t.TempDir(), "ledger.db"), testLogger())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(r.Close)

	fsys := fstest.MapFS{
		"sqlite/001_ok.sql":     {Data: []byte("CREATE TABLE first_table (id INTEGER);")},
		"sqlite/002_broken.sql": {Data: []byte("CREATE TABLE oops (")},
	}
	if err := r.RunMigrations(ctx, fsys); err == nil {
		t.Fatal("expected broken migration to fail")
	}
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE name = 'first_table'`).Scan(&n); err != nil {
		t.Fatalf("inspect schema: %v", err)
	}
	if n != 0 {
		t.Fatal("earlier script of a failed run must be rolled back")
	}
}
