package db

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
)

//go:embed migrations
var migrationFiles embed.FS

// Migration represents an applied database migration.
type Migration struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	AppliedAt string `db:"applied_at"`
	Checksum  string `db:"checksum"`
}

// MigrationStatus describes one migration file and whether it has been applied.
type MigrationStatus struct {
	Name      string
	Applied   bool
	AppliedAt string
	Modified  bool
}

// Migrator handles database migrations for the connection's dialect.
type Migrator struct {
	db *DB
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{db: db}
}

var migrationTableDDL = map[Dialect]string{
	DialectPostgres: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id SERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ DEFAULT NOW(),
			checksum VARCHAR(64) NOT NULL
		)`,
	DialectSQLite: `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			applied_at TEXT DEFAULT CURRENT_TIMESTAMP,
			checksum TEXT NOT NULL
		)`,
}

// Tables dropped by Reset, dependents first.
var resetTables = []string{"servers", "sockets", "statuses", "hosts", "schema_migrations"}

// ensureMigrationsTable creates the migrations tracking table if it doesn't exist.
func (m *Migrator) ensureMigrationsTable(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, migrationTableDDL[m.db.dialect]); err != nil {
		return errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to create migrations table", err)
	}
	return nil
}

// getAppliedMigrations returns the already applied migrations keyed by name.
func (m *Migrator) getAppliedMigrations(ctx context.Context) (map[string]Migration, error) {
	var migrations []Migration
	query := `SELECT id, name, CAST(applied_at AS TEXT) AS applied_at, checksum FROM schema_migrations ORDER BY id`

	if err := m.db.SelectContext(ctx, &migrations, query); err != nil {
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseMigration, "Failed to get applied migrations", err)
	}

	applied := make(map[string]Migration, len(migrations))
	for _, migration := range migrations {
		applied[migration.Name] = migration
	}
	return applied, nil
}

func (m *Migrator) migrationDir() string {
	return path.Join("migrations", string(m.db.dialect))
}

// getMigrationFiles returns the sorted migration files for the dialect.
func (m *Migrator) getMigrationFiles() ([]string, error) {
	entries, err := fs.ReadDir(migrationFiles, m.migrationDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read migration files: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, path.Join(m.migrationDir(), entry.Name()))
		}
	}

	sort.Strings(files)
	return files, nil
}

func migrationName(file string) string {
	return strings.TrimSuffix(path.Base(file), ".sql")
}

func checksum(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// executeMigration executes a single migration file inside a transaction.
func (m *Migrator) executeMigration(ctx context.Context, filename string) error {
	content, err := migrationFiles.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read migration file %s: %w", filename, err)
	}

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute migration %s: %w", filename, err)
	}

	insertQuery := tx.Rebind(`INSERT INTO schema_migrations (name, checksum) VALUES (?, ?)`)
	if _, err := tx.ExecContext(ctx, insertQuery, migrationName(filename), checksum(content)); err != nil {
		return fmt.Errorf("failed to record migration %s: %w", filename, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", filename, err)
	}
	return nil
}

// Up runs all pending migrations and returns how many were applied.
func (m *Migrator) Up(ctx context.Context) (int, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return 0, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return 0, err
	}

	files, err := m.getMigrationFiles()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, file := range files {
		name := migrationName(file)
		if _, exists := applied[name]; exists {
			logging.Debug("Migration already applied, skipping", "migration", name)
			continue
		}

		logging.InfoDatabase("Applying migration", "migration", name, "dialect", m.db.dialect)
		if err := m.executeMigration(ctx, file); err != nil {
			return count, errors.WrapDatabaseError(errors.CodeDatabaseMigration,
				fmt.Sprintf("Migration %s failed", name), err)
		}
		count++
	}

	return count, nil
}

// Status reports every migration file and whether it has been applied.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	if err := m.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}

	applied, err := m.getAppliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	files, err := m.getMigrationFiles()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(files))
	for _, file := range files {
		status := MigrationStatus{Name: migrationName(file)}
		if migration, ok := applied[status.Name]; ok {
			status.Applied = true
			status.AppliedAt = migration.AppliedAt
			if content, err := migrationFiles.ReadFile(file); err == nil {
				status.Modified = checksum(content) != migration.Checksum
			}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Reset drops all tables and re-runs migrations (USE WITH CAUTION).
func (m *Migrator) Reset(ctx context.Context) error {
	logging.Warn("Dropping all tables", "dialect", m.db.dialect)

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range resetTables {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reset: %w", err)
	}

	_, err = m.Up(ctx)
	return err
}

// ConnectAndMigrate is a convenience function to connect to database and run migrations.
func ConnectAndMigrate(ctx context.Context, config *Config) (*DB, error) {
	db, err := Connect(ctx, config)
	if err != nil {
		return nil, err
	}

	if _, err := NewMigrator(db).Up(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}
