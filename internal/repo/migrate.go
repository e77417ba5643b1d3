package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Migration dialect directories inside the embedded filesystem.
const (
	postgresMigrations = "."
	sqliteMigrations   = "sqlite"
)

type migrationScript struct {
	name string
	sql  string
}

// loadMigrations returns the non-empty .sql files of dir in lexicographical
// order. Nested directories belong to other dialects and are skipped.
func loadMigrations(filesystem fs.FS, dir string) ([]migrationScript, error) {
	entries, err := fs.ReadDir(filesystem, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations %s: %w", dir, err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	scripts := make([]migrationScript, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(filesystem, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		scripts = append(scripts, migrationScript{name: entry.Name(), sql: string(content)})
	}
	return scripts, nil
}

// ApplyMigrations runs the Postgres scripts in one transaction, so a failing
// script leaves the schema untouched.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS, logger *slog.Logger) error {
	scripts, err := loadMigrations(filesystem, postgresMigrations)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, script := range scripts {
			if _, err := tx.Exec(ctx, script.sql); err != nil {
				return fmt.Errorf("execute migration %s: %w", script.name, err)
			}
			logger.Debug("migration applied", "file", script.name, "dialect", "postgres")
		}
		return nil
	})
}

func (r *SQLiteRepository) applyMigrations(ctx context.Context, filesystem fs.FS) error {
	scripts, err := loadMigrations(filesystem, sqliteMigrations)
	if err != nil {
		return err
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, script := range scripts {
			if _, err := tx.ExecContext(ctx, script.sql); err != nil {
				return fmt.Errorf("apply migration %s: %w", script.name, err)
			}
			r.logger.Debug("migration applied", "file", script.name, "dialect", "sqlite")
		}
		return nil
	})
}
