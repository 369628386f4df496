// Package store is the estimator's persistence layer: one logical schema,
// two supported drivers (PostgreSQL in production, SQLite for local runs and
// tests). Every entity lives in its own file (users.go, projects.go, jobs.go,
// boq.go, catalog.go, social.go), following the teacher's one-store-type-
// per-file layout, but all entities share a single *Store handle and a
// single rebind step instead of maintaining parallel Postgres/SQLite query
// strings per entity.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB plus the driver name needed to rebind placeholders.
type Store struct {
	db     *sql.DB
	driver string // "postgres" | "sqlite"
	clock  func() time.Time
}

// Open opens and migrates a database. driver is "postgres" or "sqlite";
// dsn is passed straight to sql.Open.
func Open(driver, dsn string) (*Store, error) {
	sqlDriver := driver
	if driver == "sqlite" {
		sqlDriver = "sqlite"
	}
	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// Single-writer semantics: serialize access so callers see the
		// conditional-update races they expect, rather than SQLITE_BUSY noise.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}

	s := &Store{db: db, driver: driver, clock: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// WithClock overrides the store's time source. Tests use this to make
// cooldown/TTL logic deterministic.
func (s *Store) WithClock(clock func() time.Time) *Store {
	s.clock = clock
	return s
}

func (s *Store) now() time.Time { return s.clock().UTC() }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying *sql.DB for callers that need to open a second
// table against the same database connection (metering and finance both do
// this, rather than duplicating Store's own connection handling).
func (s *Store) DB() *sql.DB { return s.db }

// Driver reports which backend this Store was opened against, "postgres" or
// "sqlite" — callers that need a feature only one driver's dialect
// supports (e.g. the Postgres-only metering/finance tables) gate on this.
func (s *Store) Driver() string { return s.driver }

// rebind rewrites "?" placeholders to "$1", "$2", ... for Postgres. SQLite
// accepts "?" directly, so queries are always authored with "?" and rebound
// at the call site via s.q().
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) q(query string) string { return s.rebind(query) }

// execer is satisfied by both *sql.DB and *sql.Tx, letting every entity
// method run either standalone or inside TxDo's transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// TxDo runs fn inside a transaction, committing on success and rolling back
// on error or panic. SQLite's single-writer connection pool (see Open) means
// callers never need to retry on "database is locked"; Postgres transactions
// fail closed the same way on serialization conflicts.
func (s *Store) TxDo(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// withinOneSecond implements the spec's optimistic-concurrency tolerance:
// a client's cached updated_at token is considered current if it is within
// one second of the stored value, absorbing clock/serialization skew
// without weakening the conflict check to "ignore the token entirely".
func withinOneSecond(a, b string) bool {
	ta, tb := parseTime(a), parseTime(b)
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d <= time.Second
}

func newRevisionID() string {
	return uuid.NewString()
}
