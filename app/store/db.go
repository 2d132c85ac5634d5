package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	_ "github.com/jackc/pgx/v5/stdlib" // postgresql driver
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // sqlite driver
)

// Store runs read-only queries against the product database, SQLite or PostgreSQL.
type Store struct {
	db     *sqlx.DB
	dbType DBType
}

// New connects to the database at dbURL.
// postgres:// and postgresql:// URLs select PostgreSQL, anything else is a SQLite path.
func New(dbURL string) (*Store, error) {
	dbType := detectDBType(dbURL)

	var db *sqlx.DB
	var err error
	switch dbType {
	case DBTypePostgres:
		db, err = connectPostgres(dbURL)
	default:
		db, err = connectSQLite(dbURL)
	}
	if err != nil {
		return nil, err
	}

	log.Printf("[DEBUG] connected to %s database", dbType)
	return &Store{db: db, dbType: dbType}, nil
}

// detectDBType determines database type from URL.
func detectDBType(url string) DBType {
	lower := strings.ToLower(url)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DBTypePostgres
	}
	return DBTypeSQLite
}

// connectSQLite opens the database file the backend writes. The connection is
// query-only and waits on the writer's locks instead of failing.
func connectSQLite(dbPath string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA query_only=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	// pragmas are per connection
	db.SetMaxOpenConns(1)
	return db, nil
}

// connectPostgres establishes PostgreSQL connection.
func connectPostgres(dbURL string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return db, nil
}

// Type returns the engine the store is connected to.
func (s *Store) Type() DBType {
	return s.dbType
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping %s: %w", s.dbType, err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// get runs a single-row query, mapping no rows to ErrNotFound.
func (s *Store) get(ctx context.Context, dest any, query string, args ...any) error {
	err := s.db.GetContext(ctx, dest, s.adoptQuery(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// adoptQuery converts SQLite placeholders (?) to PostgreSQL ($1, $2, ...).
func (s *Store) adoptQuery(query string) string {
	if s.dbType != DBTypePostgres {
		return query
	}
	return sqlx.Rebind(sqlx.DOLLAR, query)
}
