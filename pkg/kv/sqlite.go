package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// SQLiteStore provides single-file storage using the pure-Go SQLite
// driver. All entries live in one `kv(k BLOB PRIMARY KEY, v BLOB)`
// table; SQLite's WAL mode gives snapshot reads to each transaction and
// serialises writers, which satisfies the Store contract.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database file at path.
// Pass ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	// The driver serialises access per connection; a single connection
	// keeps transaction snapshots stable.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`create table if not exists kv (k blob primary key, v blob not null)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize kv table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Begin opens a SQLite transaction.
func (s *SQLiteStore) Begin(ctx context.Context) (Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite begin: %w", mapSQLiteErr(err))
	}
	return &sqliteTxn{tx: tx}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTxn struct {
	tx     *sql.Tx
	closed bool
}

func (t *sqliteTxn) Get(ctx context.Context, key []byte) ([]byte, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	var v []byte
	err := t.tx.QueryRowContext(ctx, `select v from kv where k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", mapSQLiteErr(err))
	}
	return v, nil
}

func (t *sqliteTxn) Put(key, value []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	if value == nil {
		// A nil slice would bind as SQL NULL; markers are empty blobs.
		value = []byte{}
	}
	_, err := t.tx.Exec(`insert into kv (k, v) values (?, ?) on conflict (k) do update set v = excluded.v`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite put: %w", mapSQLiteErr(err))
	}
	return nil
}

func (t *sqliteTxn) Delete(key []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	if _, err := t.tx.Exec(`delete from kv where k = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", mapSQLiteErr(err))
	}
	return nil
}

func (t *sqliteTxn) DeleteRange(start, end []byte) error {
	if t.closed {
		return ErrTxnClosed
	}
	var err error
	if end == nil {
		_, err = t.tx.Exec(`delete from kv where k >= ?`, start)
	} else {
		_, err = t.tx.Exec(`delete from kv where k >= ? and k < ?`, start, end)
	}
	if err != nil {
		return fmt.Errorf("sqlite range delete: %w", mapSQLiteErr(err))
	}
	return nil
}

func (t *sqliteTxn) Scan(ctx context.Context, start, end []byte) (Iterator, error) {
	if t.closed {
		return nil, ErrTxnClosed
	}
	var rows *sql.Rows
	var err error
	if end == nil {
		rows, err = t.tx.QueryContext(ctx, `select k, v from kv where k >= ? order by k`, start)
	} else {
		rows, err = t.tx.QueryContext(ctx, `select k, v from kv where k >= ? and k < ? order by k`, start, end)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan: %w", mapSQLiteErr(err))
	}
	// Drain the cursor up front: the evaluator issues point reads on the
	// same transaction while iterating, and a single-connection SQLite
	// session cannot interleave an open cursor with further statements.
	var pairs []memPair
	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sqlite scan row: %w", err)
		}
		pairs = append(pairs, memPair{key: string(k), value: v})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite scan: %w", mapSQLiteErr(err))
	}
	rows.Close()
	return &memoryIterator{pairs: pairs}, nil
}

func (t *sqliteTxn) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t.closed {
		return ErrTxnClosed
	}
	t.closed = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", mapSQLiteErr(err))
	}
	return nil
}

func (t *sqliteTxn) Rollback() error {
	if t.closed {
		return nil
	}
	t.closed = true
	return t.tx.Rollback()
}

// mapSQLiteErr converts SQLite busy/locked failures into ErrConflict so
// callers can uniformly retry serialisation races.
func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") {
		return ErrConflict
	}
	return err
}
