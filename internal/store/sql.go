package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax and schema handling.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectSQLite:
		return "sqlite"
	default:
		return "unknown"
	}
}

// SQLStore implements Store on top of database/sql. The *sql.DB pool is the
// only shared resource and is safe for concurrent use.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an already opened pool.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// OpenPostgres connects to PostgreSQL. Tables are created by migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := d.PingContext(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewSQLStore(d, DialectPostgres), nil
}

// OpenSQLite opens (or creates) a SQLite database and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	if path == ":memory:" || strings.Contains(path, "mode=memory") {
		// every pooled connection would otherwise see its own empty database
		d.SetMaxOpenConns(1)
	}
	s := NewSQLStore(d, DialectSQLite)
	if err := s.initSQLite(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSQLite(ctx context.Context) error {
	for _, q := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("applying sqlite schema: %w", err)
		}
	}
	return nil
}

// DB exposes the underlying pool.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect reports the backend flavour.
func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) FindByID(ctx context.Context, table Table, id string) ([]Record, error) {
	return s.FindByField(ctx, table, "id", id)
}

func (s *SQLStore) FindByField(ctx context.Context, table Table, field string, value any) ([]Record, error) {
	def, err := checkField(table, field, value)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`, strings.Join(def.columns, ","), def.name, field)
	rows, err := s.db.QueryContext(ctx, s.rebind(q), value)
	if err != nil {
		return nil, fmt.Errorf("querying %s by %s: %w", table, field, err)
	}
	defer rows.Close()

	recs := []Record{}
	for rows.Next() {
		rec, err := def.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", table, err)
		}
		rec.setType(def.docType)
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", table, err)
	}
	return recs, nil
}

func (s *SQLStore) Insert(ctx context.Context, rec Record) error {
	def, err := lookupTable(rec.table())
	if err != nil {
		return err
	}
	placeholders := make([]string, len(def.columns))
	for i := range def.columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	q := fmt.Sprintf(`INSERT INTO %s(%s) VALUES(%s)`, def.name, strings.Join(def.columns, ","), strings.Join(placeholders, ","))
	if _, err := s.db.ExecContext(ctx, s.rebind(q), def.values(rec)...); err != nil {
		return fmt.Errorf("inserting into %s: %w", def.name, err)
	}
	return nil
}

func (s *SQLStore) Update(ctx context.Context, rec Record) error {
	def, err := lookupTable(rec.table())
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(def.columns)-1)
	for i, c := range def.columns[1:] {
		sets = append(sets, c+" = $"+strconv.Itoa(i+2))
	}
	q := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $1`, def.name, strings.Join(sets, ","))
	res, err := s.db.ExecContext(ctx, s.rebind(q), def.values(rec)...)
	if err != nil {
		return fmt.Errorf("updating %s: %w", def.name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("updating %s %s: %w", def.name, rec.RecordID(), ErrNotFound)
	}
	return nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return s.db.Close() }

// rebind turns $N placeholders into SQLite's numbered ?N form so a
// placeholder binds the same argument on both dialects.
func (s *SQLStore) rebind(q string) string {
	if s.dialect != DialectSQLite {
		return q
	}
	return strings.ReplaceAll(q, "$", "?")
}
