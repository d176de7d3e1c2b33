package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MigrationInfo describes one embedded migration and whether it has run.
type MigrationInfo struct {
	Version   int
	Name      string
	AppliedAt *time.Time
}

type migration struct {
	version int
	name    string
	sql     string
}

// Migrate applies every embedded migration not yet recorded in
// schema_migrations, each in its own transaction, and returns the ones it
// applied in version order.
func Migrate(ctx context.Context, conn *sql.DB) ([]MigrationInfo, error) {
	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}

	ms, err := loadMigrations()
	if err != nil {
		return nil, err
	}

	var applied []MigrationInfo
	for _, m := range ms {
		at, err := appliedAt(ctx, conn, m.version)
		if err != nil {
			return applied, err
		}
		if at != nil {
			continue
		}

		now := time.Now().UTC()
		tx, err := conn.BeginTx(ctx, nil)
		if err != nil {
			return applied, fmt.Errorf("begin tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("apply migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations(version, name, applied_at_ms) VALUES(?, ?, ?);",
			m.version, m.name, now.UnixMilli(),
		); err != nil {
			_ = tx.Rollback()
			return applied, fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return applied, fmt.Errorf("commit migration %s: %w", m.name, err)
		}
		applied = append(applied, MigrationInfo{Version: m.version, Name: m.name, AppliedAt: &now})
	}

	return applied, nil
}

// MigrationStatus lists every embedded migration with its applied time,
// nil for pending ones.
func MigrationStatus(ctx context.Context, conn *sql.DB) ([]MigrationInfo, error) {
	if err := ensureMigrationTable(ctx, conn); err != nil {
		return nil, err
	}
	ms, err := loadMigrations()
	if err != nil {
		return nil, err
	}
	out := make([]MigrationInfo, 0, len(ms))
	for _, m := range ms {
		at, err := appliedAt(ctx, conn, m.version)
		if err != nil {
			return nil, err
		}
		out = append(out, MigrationInfo{Version: m.version, Name: m.name, AppliedAt: at})
	}
	return out, nil
}

func ensureMigrationTable(ctx context.Context, conn *sql.DB) error {
	if _, err := conn.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version       INTEGER PRIMARY KEY,
  name          TEXT NOT NULL DEFAULT '',
  applied_at_ms INTEGER NOT NULL
);`); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	var ms []migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		v, err := parseVersion(e.Name())
		if err != nil {
			return nil, err
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("duplicate migration version %d: %s and %s", v, prev, e.Name())
		}
		seen[v] = e.Name()

		b, err := migrationsFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		ms = append(ms, migration{version: v, name: e.Name(), sql: string(b)})
	}

	sort.Slice(ms, func(i, j int) bool { return ms[i].version < ms[j].version })
	return ms, nil
}

func appliedAt(ctx context.Context, conn *sql.DB, version int) (*time.Time, error) {
	var ms int64
	err := conn.QueryRowContext(ctx,
		"SELECT applied_at_ms FROM schema_migrations WHERE version = ?;", version,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check migration %d: %w", version, err)
	}
	t := time.UnixMilli(ms).UTC()
	return &t, nil
}

// parseVersion reads the numeric prefix: 0002_placements.sql -> 2.
func parseVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("bad migration filename: %s", filename)
	}
	s := strings.TrimLeft(prefix, "0")
	if s == "" {
		s = "0"
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad migration version %s: %w", filename, err)
	}
	return v, nil
}
