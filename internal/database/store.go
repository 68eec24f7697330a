package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// sqliteTimeLayout is fixed width so stored timestamps compare correctly as text.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

//go:embed migrations
var migrationsFS embed.FS

type SQLStore struct {
	conn   *sql.DB
	driver string
}

// Open connects to the database, applies pending migrations and returns a
// store. dsn is a lib/pq connection string for postgres or a file path for
// sqlite; in-memory sqlite databases are not supported because migrations
// run on their own connection.
func Open(driver, dsn string) (*SQLStore, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	if err := migrateUp(driver, dsn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		// sqlite allows one writer; a single connection serializes
		// transactions instead of surfacing SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLStore{conn: db, driver: driver}, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

func migrateUp(driver, dsn string) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("migration source: %w", err)
	}

	var m *migrate.Migrate
	switch driver {
	case DriverPostgres:
		drv, err := migratepg.WithInstance(db, &migratepg.Config{})
		if err != nil {
			db.Close()
			return fmt.Errorf("postgres migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, driver, drv)
		if err != nil {
			db.Close()
			return err
		}
	case DriverSQLite:
		drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
		if err != nil {
			db.Close()
			return fmt.Errorf("sqlite migration driver: %w", err)
		}
		m, err = migrate.NewWithInstance("iofs", src, driver, drv)
		if err != nil {
			db.Close()
			return err
		}
	}
	// closes the source and the migration connection
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// rebind rewrites ? placeholders as $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) timeArg(t time.Time) any {
	t = t.UTC()
	if s.driver == DriverSQLite {
		return t.Format(sqliteTimeLayout)
	}
	return t
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(liteErr.Error(), "UNIQUE")
		}
	}

	return false
}

// notFound maps sql.ErrNoRows to ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
