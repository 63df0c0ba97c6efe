// Package store persists buildsets, build requests and the coordinator
// registry in a relational database shared by all coordinators.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/srand/jolt/coordinator/pkg/log"
	_ "modernc.org/sqlite"
)

var (
	// Another coordinator owns at least one of the requests.
	ErrAlreadyClaimed = errors.New("request already claimed")
	// The caller does not own the claim of at least one of the requests.
	ErrNotClaimed = errors.New("request not claimed by owner")
	// Claiming, unclaiming or completing nothing is a programming error.
	ErrEmptyRequestSet = errors.New("empty request set")
	ErrNotFound        = errors.New("not found")
	ErrUnknownDriver   = errors.New("unknown database driver")
)

//go:embed schema_sqlite.sql
var schemaSqlite string

//go:embed schema_postgres.sql
var schemaPostgres string

var logger = log.Component("store")

type dialect int

const (
	dialectSqlite dialect = iota
	dialectPostgres
)

// Rewrites ? placeholders into the $n form used by PostgreSQL.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database and creates missing tables.
// Supported drivers are "sqlite" and "postgres".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	var (
		d      dialect
		schema string
		name   string
	)

	switch driver {
	case "sqlite", "":
		d, schema, name = dialectSqlite, schemaSqlite, "sqlite"
	case "postgres":
		d, schema, name = dialectPostgres, schemaPostgres, "pgx"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if d == dialectSqlite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db, dialect: d}
	if err := s.migrate(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Debugf("open - database - driver: %s", driver)
	return s, nil
}

func (s *Store) migrate(ctx context.Context, schema string) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Runs fn in a transaction. The transaction is rolled back if fn fails.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logger.Errorf("nok - rollback - %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, s.dialect.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

// Returns "?,?,?" with one placeholder per id, and the ids as arguments.
func inClause(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?,", len(ids)), ","), args
}

// Removes duplicate ids, keeping the first occurrence.
func uniqueIDs(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	result := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			result = append(result, id)
		}
	}
	return result
}

// Timestamps are stored as unix microseconds.
func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

func fromNullMicros(us sql.NullInt64) *time.Time {
	if !us.Valid || us.Int64 == 0 {
		return nil
	}
	t := fromMicros(us.Int64)
	return &t
}
