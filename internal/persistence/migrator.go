package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"

	// Arbitrary key for pg_advisory_xact_lock; two nodes starting together
	// must not apply the same file twice.
	migrationLockKey = 0x70617261 // "para"
)

// Migration is one numbered schema change. Files are named like
// golang-migrate's: 000001_event_log.up.sql and 000001_event_log.down.sql.
type Migration struct {
	Version string
	Name    string
	Up      string
	Down    string
}

// MigrationStatus is a Migration as seen by the database.
type MigrationStatus struct {
	Version   string
	Name      string
	AppliedAt *time.Time
}

// LoadMigrations reads every migration at the root of fsys, ordered by
// version. Each up file needs a matching down file.
func LoadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	byVersion := make(map[string]*Migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		var stem string
		var up bool
		switch {
		case strings.HasSuffix(name, upSuffix):
			stem, up = strings.TrimSuffix(name, upSuffix), true
		case strings.HasSuffix(name, downSuffix):
			stem = strings.TrimSuffix(name, downSuffix)
		default:
			continue
		}

		version, label, ok := strings.Cut(stem, "_")
		if !ok || version == "" {
			return nil, fmt.Errorf("migration %s: want {version}_{name}", name)
		}
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}

		m := byVersion[version]
		if m == nil {
			m = &Migration{Version: version, Name: label}
			byVersion[version] = m
		} else if m.Name != label {
			return nil, fmt.Errorf("migration %s: names %q and %q share a version", version, m.Name, label)
		}
		if up {
			m.Up = string(body)
		} else {
			m.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %s_%s: needs both up and down files", m.Version, m.Name)
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Migrator applies a directory of Migrations to Postgres and records them
// in public.schema_migrations.
type Migrator struct {
	db     *sql.DB
	fsys   fs.FS
	logger zerolog.Logger
}

// NewMigrator reads migrations from fsys, usually os.DirFS(dir).
func NewMigrator(db *sql.DB, fsys fs.FS, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, fsys: fsys, logger: logger}
}

// Up applies every pending migration in version order. Each runs in its
// own transaction holding the migration lock.
func (m *Migrator) Up(ctx context.Context) error {
	migrations, err := LoadMigrations(m.fsys)
	if err != nil {
		return err
	}
	if err := m.createTable(ctx); err != nil {
		return err
	}

	for _, mig := range migrations {
		var applied bool
		err := m.locked(ctx, func(tx *sql.Tx) error {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS (SELECT 1 FROM public.schema_migrations WHERE version = $1)`,
				mig.Version,
			).Scan(&exists); err != nil {
				return err
			}
			if exists {
				return nil
			}
			if _, err := tx.ExecContext(ctx, mig.Up); err != nil {
				return fmt.Errorf("apply %s_%s: %w", mig.Version, mig.Name, err)
			}
			applied = true
			_, err := tx.ExecContext(ctx,
				`INSERT INTO public.schema_migrations (version, name) VALUES ($1, $2)`,
				mig.Version, mig.Name)
			return err
		})
		if err != nil {
			return err
		}
		if applied {
			m.logger.Info().Str("version", mig.Version).Str("name", mig.Name).Msg("migration applied")
		}
	}
	return nil
}

// Down reverts the most recently applied migration, if any.
func (m *Migrator) Down(ctx context.Context) error {
	migrations, err := LoadMigrations(m.fsys)
	if err != nil {
		return err
	}
	if err := m.createTable(ctx); err != nil {
		return err
	}

	var reverted *Migration
	err = m.locked(ctx, func(tx *sql.Tx) error {
		var version string
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		i := sort.Search(len(migrations), func(i int) bool { return migrations[i].Version >= version })
		if i == len(migrations) || migrations[i].Version != version {
			return fmt.Errorf("applied migration %s has no file", version)
		}
		mig := migrations[i]
		if _, err := tx.ExecContext(ctx, mig.Down); err != nil {
			return fmt.Errorf("revert %s_%s: %w", mig.Version, mig.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM public.schema_migrations WHERE version = $1`, version); err != nil {
			return err
		}
		reverted = &mig
		return nil
	})
	if err != nil {
		return err
	}

	if reverted == nil {
		m.logger.Info().Msg("nothing to revert")
	} else {
		m.logger.Info().Str("version", reverted.Version).Str("name", reverted.Name).Msg("migration reverted")
	}
	return nil
}

// Status lists every migration file with the time it was applied, nil
// when pending.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	migrations, err := LoadMigrations(m.fsys)
	if err != nil {
		return nil, err
	}
	if err := m.createTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, `SELECT version, applied_at FROM public.schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appliedAt := make(map[string]time.Time)
	for rows.Next() {
		var version string
		var at time.Time
		if err := rows.Scan(&version, &at); err != nil {
			return nil, err
		}
		appliedAt[version] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]MigrationStatus, len(migrations))
	for i, mig := range migrations {
		out[i] = MigrationStatus{Version: mig.Version, Name: mig.Name}
		if at, ok := appliedAt[mig.Version]; ok {
			out[i].AppliedAt = &at
		}
	}
	return out, nil
}

func (m *Migrator) createTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

// locked runs fn in a transaction that holds the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
