package persistence

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

// migrationLockID keys the session advisory lock held while migrating, so
// two service instances starting together do not race.
const migrationLockID int64 = 0x46585357_4150 // "FXSWAP"

// Migrator runs SQL migration files in order. Files are named
// {version}_{name}.up.sql with a matching .down.sql.
type Migrator struct {
	db            *sql.DB
	migrationsDir string
	logger        zerolog.Logger
}

func NewMigrator(db *sql.DB, migrationsDir string, logger zerolog.Logger) *Migrator {
	return &Migrator{db: db, migrationsDir: migrationsDir, logger: logger}
}

type migration struct {
	version  string
	upFile   string
	downFile string
	checksum string
}

// appliedMigration is a schema_migrations row.
type appliedMigration struct {
	filename string
	checksum string
}

// Up applies every pending migration, each in its own transaction. An
// applied migration whose file changed since is an error.
func (m *Migrator) Up(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		migrations, err := m.load()
		if err != nil {
			return err
		}
		applied, err := m.applied(ctx, conn)
		if err != nil {
			return err
		}

		for _, mig := range migrations {
			if prev, ok := applied[mig.version]; ok {
				if prev.checksum != "" && prev.checksum != mig.checksum {
					return fmt.Errorf("migration %s changed after it was applied", mig.upFile)
				}
				continue
			}
			if err := m.run(ctx, conn, mig.upFile, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx,
					`INSERT INTO public.schema_migrations (version, filename, checksum) VALUES ($1, $2, $3)`,
					mig.version, mig.upFile, mig.checksum)
				return err
			}); err != nil {
				return err
			}
			m.logger.Info().Str("version", mig.version).Str("file", mig.upFile).Msg("applied migration")
		}
		return nil
	})
}

// Down rolls back the most recently applied migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.locked(ctx, func(conn *sql.Conn) error {
		var version, filename string
		err := conn.QueryRowContext(ctx,
			`SELECT version, filename FROM public.schema_migrations ORDER BY version DESC LIMIT 1`,
		).Scan(&version, &filename)
		if errors.Is(err, sql.ErrNoRows) {
			m.logger.Info().Msg("no migrations to roll back")
			return nil
		}
		if err != nil {
			return fmt.Errorf("latest migration: %w", err)
		}

		downFile := strings.TrimSuffix(filename, ".up.sql") + ".down.sql"
		if err := m.run(ctx, conn, downFile, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `DELETE FROM public.schema_migrations WHERE version = $1`, version)
			return err
		}); err != nil {
			return err
		}
		m.logger.Info().Str("version", version).Str("file", downFile).Msg("rolled back migration")
		return nil
	})
}

// Pending lists the up-migration files not yet applied, in order.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	var pending []string
	err := m.locked(ctx, func(conn *sql.Conn) error {
		migrations, err := m.load()
		if err != nil {
			return err
		}
		applied, err := m.applied(ctx, conn)
		if err != nil {
			return err
		}
		for _, mig := range migrations {
			if _, ok := applied[mig.version]; !ok {
				pending = append(pending, mig.upFile)
			}
		}
		return nil
	})
	return pending, err
}

// locked runs fn on one connection holding the migration advisory lock.
func (m *Migrator) locked(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("migration lock: %w", err)
	}
	defer func() {
		if _, err := conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			m.logger.Warn().Err(err).Msg("release migration lock")
		}
	}()

	if _, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS public.schema_migrations (
			version    TEXT PRIMARY KEY,
			filename   TEXT NOT NULL,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}
	return fn(conn)
}

// run executes one SQL file and the bookkeeping statement atomically.
func (m *Migrator) run(ctx context.Context, conn *sql.Conn, file string, record func(tx *sql.Tx) error) error {
	content, err := os.ReadFile(filepath.Join(m.migrationsDir, file))
	if err != nil {
		return fmt.Errorf("read migration %s: %w", file, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", file, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("exec migration %s: %w", file, err)
	}
	if err := record(tx); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	return tx.Commit()
}

func (m *Migrator) applied(ctx context.Context, conn *sql.Conn) (map[string]appliedMigration, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version, filename, checksum FROM public.schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]appliedMigration)
	for rows.Next() {
		var version string
		var a appliedMigration
		if err := rows.Scan(&version, &a.filename, &a.checksum); err != nil {
			return nil, err
		}
		applied[version] = a
	}
	return applied, rows.Err()
}

// load pairs up and down files by version. Every up file needs a down file.
func (m *Migrator) load() ([]migration, error) {
	entries, err := os.ReadDir(m.migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version := extractVersion(name)
		mig := byVersion[version]
		if mig == nil {
			mig = &migration{version: version}
			byVersion[version] = mig
		}
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			content, err := os.ReadFile(filepath.Join(m.migrationsDir, name))
			if err != nil {
				return nil, fmt.Errorf("read migration %s: %w", name, err)
			}
			sum := sha256.Sum256(content)
			mig.upFile, mig.checksum = name, hex.EncodeToString(sum[:])
		case strings.HasSuffix(name, ".down.sql"):
			mig.downFile = name
		}
	}

	migrations := make([]migration, 0, len(byVersion))
	for _, mig := range byVersion {
		if mig.upFile == "" || mig.downFile == "" {
			return nil, fmt.Errorf("migration %s needs both .up.sql and .down.sql", mig.version)
		}
		migrations = append(migrations, *mig)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

// extractVersion returns the numeric prefix of a migration filename:
// "000001_event_log.up.sql" is version "000001".
func extractVersion(filename string) string {
	version, _, _ := strings.Cut(filename, "_")
	return version
}
