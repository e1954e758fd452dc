package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	constants "multisource-digest/api/constants"
	models "multisource-digest/api/models"
)

type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

const timestampCol = `"timestamp"`

// SQLStore keeps entries in the workflow_cache table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	qb      sq.StatementBuilderType
	table   string
}

// OpenSQLite opens (and creates) the cache file in write-ahead-log mode so
// concurrent runs can read while one writes.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		path = constants.CachePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("cache: create cache dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	s, err := NewSQLStore(ctx, db, SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("cache: ping postgres: %w", err)
	}
	s, err := NewSQLStore(ctx, db, Postgres)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps db and creates the table when missing.
func NewSQLStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("cache: db must not be nil")
	}
	s := &SQLStore{db: db, dialect: dialect, table: constants.CacheTable}
	switch dialect {
	case SQLite:
		s.qb = sq.StatementBuilder.PlaceholderFormat(sq.Question)
	case Postgres:
		s.qb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	default:
		return nil, fmt.Errorf("cache: unsupported dialect %q", dialect)
	}
	if err := s.migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) migrate(ctx context.Context) error {
	tsType := "INTEGER"
	if s.dialect == Postgres {
		tsType = "BIGINT"
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			prompt TEXT PRIMARY KEY,
			response TEXT NOT NULL,
			%s %s NOT NULL
		)`, s.table, timestampCol, tsType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_timestamp_idx ON %s (%s)`, s.table, s.table, timestampCol),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("cache: create schema: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, prompt string) (models.CacheEntry, bool, error) {
	query, args, err := s.qb.Select("response", timestampCol).
		From(s.table).
		Where(sq.Eq{"prompt": prompt}).
		ToSql()
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("build select: %w", err)
	}

	var (
		response string
		ts       int64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&response, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheEntry{}, false, nil
	}
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("select entry: %w", err)
	}
	return models.CacheEntry{Prompt: prompt, Response: []byte(response), Timestamp: ts}, true, nil
}

func (s *SQLStore) Put(ctx context.Context, entry models.CacheEntry) error {
	query, args, err := s.qb.Insert(s.table).
		Columns("prompt", "response", timestampCol).
		Values(entry.Prompt, string(entry.Response), entry.Timestamp).
		Suffix(fmt.Sprintf(`ON CONFLICT (prompt) DO UPDATE SET response = excluded.response, %s = excluded.%s`, timestampCol, timestampCol)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	query, args, err := s.qb.Delete(s.table).
		Where(sq.Lt{timestampCol: cutoff}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
