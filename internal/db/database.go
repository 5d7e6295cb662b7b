// Package db provides database connectivity and data models for mcscan.
// It handles database migrations, the dedup-aware persistence of hosts,
// sockets, statuses and servers, and the read queries used by the CLI and API.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverPGX      = "pgx"
	DriverSQLite   = "sqlite"
)

// Dialect identifies the SQL flavour spoken by a connection.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

const (
	sqliteMaxParams   = 999
	postgresMaxParams = 65535
)

// MaxParams returns the number of bind parameters a single statement may carry.
func (d Dialect) MaxParams() int {
	if d == DialectSQLite {
		return sqliteMaxParams
	}
	return postgresMaxParams
}

// DialectFor maps a driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DriverPostgres, DriverPGX:
		return DialectPostgres, nil
	case DriverSQLite:
		return DialectSQLite, nil
	default:
		return "", errors.ErrConfigInvalid("database.driver", driver)
	}
}

// sanitizeDBError converts raw database errors into coded errors that don't
// expose SQL details or credentials. The original error is kept as Cause.
func sanitizeDBError(operation string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewDatabaseError(errors.CodeNotFound, "Resource not found")
	}
	if errors.Is(err, context.Canceled) {
		return wrapDBError(errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled"), operation, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wrapDBError(errors.NewDatabaseError(errors.CodeDatabaseTimeout, "Database operation timed out"), operation, err)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return wrapDBError(postgresError(string(pqErr.Code), operation), operation, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return wrapDBError(postgresError(pgErr.Code, operation), operation, err)
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return wrapDBError(sqliteError(liteErr.Code(), liteErr.Error(), operation), operation, err)
	}

	dbErr := errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
	return wrapDBError(dbErr, operation, err)
}

func wrapDBError(dbErr *errors.DatabaseError, operation string, cause error) *errors.DatabaseError {
	dbErr.Operation = operation
	dbErr.Cause = cause
	return dbErr
}

func postgresError(code, operation string) *errors.DatabaseError {
	switch code {
	case "23505": // unique_violation
		return errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
	case "23503": // foreign_key_violation
		return errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
	case "23502": // not_null_violation
		return errors.NewDatabaseError(errors.CodeValidation, "Required field is missing")
	case "23514": // check_violation
		return errors.NewDatabaseError(errors.CodeValidation, "Data validation failed")
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return errors.NewDatabaseError(errors.CodeConflict, "Concurrent update detected")
	case "57014": // query_canceled
		return errors.NewDatabaseError(errors.CodeCanceled, "Database operation was canceled")
	case "57P01": // admin_shutdown
		return errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection lost")
	case "08000", "08003", "08006":
		return errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database connection error")
	}

	// Class 22 covers values the column cannot hold, e.g. NUL bytes in text.
	if strings.HasPrefix(code, "22") {
		return errors.NewDatabaseError(errors.CodeValidation, "Invalid data value")
	}
	return errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
}

func sqliteError(code int, message, operation string) *errors.DatabaseError {
	switch code {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return errors.NewDatabaseError(errors.CodeValidation, "Referenced resource does not exist")
	case sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return errors.NewDatabaseError(errors.CodeValidation, "Required field is missing")
	case sqlite3.SQLITE_CONSTRAINT_CHECK:
		return errors.NewDatabaseError(errors.CodeValidation, "Data validation failed")
	}

	// Primary result code lives in the low byte.
	switch code & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return errors.NewDatabaseError(errors.CodeDatabaseTimeout, "Database is locked")
	case sqlite3.SQLITE_CONSTRAINT:
		if strings.Contains(message, "UNIQUE constraint failed") {
			return errors.NewDatabaseError(errors.CodeConflict, "Resource already exists")
		}
		return errors.NewDatabaseError(errors.CodeValidation, "Data validation failed")
	case sqlite3.SQLITE_CANTOPEN, sqlite3.SQLITE_NOTADB:
		return errors.NewDatabaseError(errors.CodeDatabaseConnection, "Database file cannot be opened")
	default:
		return errors.NewDatabaseError(errors.CodeDatabaseQuery, fmt.Sprintf("Database operation failed: %s", operation))
	}
}

const (
	// Default database configuration values.
	defaultPostgresPort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultConnMaxIdleTime = 5
	defaultSQLitePath      = "mservers.db"
	sqliteBusyTimeoutMS    = 5000
)

// DB wraps sqlx.DB with the dialect it speaks.
type DB struct {
	*sqlx.DB
	dialect Dialect
}

// Config holds database configuration.
type Config struct {
	Driver          string        `yaml:"driver" json:"driver" validate:"oneof=postgres pgx sqlite"`
	Path            string        `yaml:"path" json:"path"`
	Host            string        `yaml:"host" json:"host"`
	Port            int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	Database        string        `yaml:"database" json:"database"`
	Username        string        `yaml:"username" json:"username"`
	Password        string        `yaml:"password" json:"password"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
}

// DefaultConfig returns the default database configuration: a local SQLite
// file. PostgreSQL credentials must be configured explicitly.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverSQLite,
		Path:            defaultSQLitePath,
		Host:            "localhost",
		Port:            defaultPostgresPort,
		SSLMode:         "disable",
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime * time.Minute,
		ConnMaxIdleTime: defaultConnMaxIdleTime * time.Minute,
	}
}

// dataSource returns the driver name and DSN for the configuration.
func (c *Config) dataSource() (driver, dsn string, err error) {
	switch c.Driver {
	case DriverPostgres, DriverPGX:
		// Both lib/pq and pgx accept the key=value form.
		dsn = fmt.Sprintf(
			"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
			c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
		)
		return c.Driver, dsn, nil
	case DriverSQLite:
		path := c.Path
		if path == "" {
			path = defaultSQLitePath
		}
		pragmas := []string{
			"_pragma=foreign_keys(1)",
			fmt.Sprintf("_pragma=busy_timeout(%d)", sqliteBusyTimeoutMS),
		}
		if !isMemoryPath(path) {
			pragmas = append(pragmas, "_pragma=journal_mode(WAL)")
		}
		return DriverSQLite, path + "?" + strings.Join(pragmas, "&"), nil
	default:
		return "", "", errors.ErrConfigInvalid("database.driver", c.Driver)
	}
}

func isMemoryPath(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory")
}

// Connect opens and verifies a connection for the configured driver.
// Returns sanitized errors that don't leak credentials or DSN details.
func Connect(ctx context.Context, config *Config) (*DB, error) {
	driver, dsn, err := config.dataSource()
	if err != nil {
		return nil, err
	}

	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, errors.ErrDatabaseConnection(err)
	}

	if driver == DriverSQLite {
		// One connection: SQLite allows a single writer, and every
		// connection to ":memory:" would otherwise see its own database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			logging.Warn("Failed to close database connection after ping failure")
		}
		return nil, errors.WrapDatabaseError(errors.CodeDatabaseConnection, "Failed to verify database connection", err)
	}

	if driver == DriverSQLite {
		logging.InfoDatabase("Connected to database", "driver", driver, "path", config.Path)
	} else {
		logging.InfoDatabase("Connected to database",
			"driver", driver, "host", config.Host, "port", config.Port, "database", config.Database)
	}

	return Wrap(db)
}

// Wrap adopts an existing sqlx connection, deriving the dialect from its driver name.
func Wrap(db *sqlx.DB) (*DB, error) {
	dialect, err := DialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	return &DB{DB: db, dialect: dialect}, nil
}

// Dialect returns the SQL dialect of the connection.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping tests the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
