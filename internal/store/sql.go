package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processed_alerts (
	id           TEXT PRIMARY KEY,
	processed_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS sync_meta (
	name            TEXT PRIMARY KEY,
	updated         TEXT NOT NULL,
	total_processed INTEGER NOT NULL
);`

const metaRow = "processed"

// SQLStore keeps one row per processed ID plus a summary row, on SQLite or
// PostgreSQL.
type SQLStore struct {
	db     *sql.DB
	driver string
	name   string
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens (creating if needed) a SQLite database in WAL mode.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}
	return newSQLStore(ctx, db, "sqlite3", "sqlite:"+path)
}

// OpenPostgres connects with a lib/pq DSN and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return newSQLStore(ctx, db, "postgres", "postgres")
}

func newSQLStore(ctx context.Context, db *sql.DB, driver, name string) (*SQLStore, error) {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLStore{
		db:     db,
		driver: driver,
		name:   name,
		logger: slog.Default().With("component", "state", "backend", driver),
		now:    time.Now,
	}, nil
}

func (s *SQLStore) Name() string { return s.name }

// rebind rewrites '?' placeholders to $n for PostgreSQL.
func (s *SQLStore) rebind(q string) string {
	if s.driver != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
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

func (s *SQLStore) Load(ctx context.Context) *ProcessedSet {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM processed_alerts")
	if err != nil {
		s.logger.Error("query processed ids, starting empty", "error", err)
		return NewProcessedSet()
	}
	defer rows.Close()

	set := NewProcessedSet()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			s.logger.Warn("malformed processed row, starting empty", "error", err)
			return NewProcessedSet()
		}
		set.Add(id)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("iterate processed ids, starting empty", "error", err)
		return NewProcessedSet()
	}

	var updated string
	err = s.db.QueryRowContext(ctx, s.rebind("SELECT updated FROM sync_meta WHERE name = ?"), metaRow).Scan(&updated)
	if err == nil {
		set.updated = parseUpdated(updated)
	} else if !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("read sync_meta", "error", err)
	}
	s.logger.Info("state loaded", "processed", set.Len())
	return set
}

// Save inserts IDs not yet stored and refreshes the summary row in one
// transaction.
func (s *SQLStore) Save(ctx context.Context, set *ProcessedSet) error {
	now := s.now()
	stamp := now.Format(timeLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrPersist, err)
	}
	stmt, err := tx.PrepareContext(ctx, s.rebind(
		"INSERT INTO processed_alerts (id, processed_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING"))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: prepare: %v", ErrPersist, err)
	}
	defer stmt.Close()
	for _, id := range set.IDs() {
		if _, err := stmt.ExecContext(ctx, id, stamp); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: insert %s: %v", ErrPersist, id, err)
		}
	}
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO sync_meta (name, updated, total_processed) VALUES (?, ?, ?)
ON CONFLICT (name) DO UPDATE SET updated = excluded.updated, total_processed = excluded.total_processed`),
		metaRow, stamp, set.Len())
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("%w: meta: %v", ErrPersist, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrPersist, err)
	}
	set.updated = now
	return nil
}

func (s *SQLStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
