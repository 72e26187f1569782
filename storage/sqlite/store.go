// Package sqlite provides a SQLite-backed implementation of the
// storage.Store contract.
//
// SQLite's single-writer transaction model stands in for the per-key
// locks: transactions are opened with an immediate write lock, so a
// read-max-then-insert sequence can never interleave with another
// writer. The unique constraints on (content_id, version_number) and
// (version_id, sequence) remain as the backstop and are mapped to the
// conflict errors of the contracts package.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/draftline/draftline-go/contracts"
	"github.com/draftline/draftline-go/storage"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS versions (
	id             TEXT PRIMARY KEY,
	content_id     TEXT NOT NULL,
	version_number INTEGER NOT NULL,
	payload        TEXT NOT NULL,
	metadata       TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	UNIQUE (content_id, version_number)
);
CREATE INDEX IF NOT EXISTS idx_versions_content ON versions (content_id, version_number);

CREATE TABLE IF NOT EXISTS states (
	id         TEXT PRIMARY KEY,
	version_id TEXT NOT NULL REFERENCES versions (id),
	name       TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE (version_id, sequence)
);
CREATE INDEX IF NOT EXISTS idx_states_version ON states (version_id, sequence);
`

// Store persists versions and states in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens a SQLite store at path and bootstraps the schema. Use
// ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path)
	}
	// modernc.org/sqlite applies pragmas via repeated _pragma query
	// parameters; the mattn-style _journal_mode/_foreign_keys keys are
	// silently ignored by this driver.
	dsn += "?_txlock=immediate" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schemaSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Begin starts a write transaction holding the database write lock.
func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

// GetVersion returns a committed version by ID.
func (s *Store) GetVersion(ctx context.Context, versionID string) (*contracts.Version, error) {
	return scanVersion(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, content_id, version_number, payload, metadata, created_at
		 FROM versions WHERE id = ?`, versionID))
}

// ListVersions returns committed versions for a content ID, descending
// by version number.
func (s *Store) ListVersions(ctx context.Context, contentID string) ([]*contracts.Version, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, content_id, version_number, payload, metadata, created_at
		 FROM versions WHERE content_id = ? ORDER BY version_number DESC`, contentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []*contracts.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if out == nil {
		out = []*contracts.Version{}
	}
	return out, nil
}

// CurrentState returns the highest-sequence state for a version.
func (s *Store) CurrentState(ctx context.Context, versionID string) (*contracts.State, error) {
	return scanState(s.sqlDB.QueryRowContext(ctx,
		`SELECT id, version_id, name, sequence, data, created_at
		 FROM states WHERE version_id = ? ORDER BY sequence DESC LIMIT 1`, versionID))
}

// ListStates returns states for a version, ascending by sequence.
func (s *Store) ListStates(ctx context.Context, versionID string) ([]*contracts.State, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT id, version_id, name, sequence, data, created_at
		 FROM states WHERE version_id = ? ORDER BY sequence ASC`, versionID)
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	defer rows.Close()

	var out []*contracts.State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	if out == nil {
		out = []*contracts.State{}
	}
	return out, nil
}

type sqliteTx struct {
	tx   *sql.Tx
	done bool
}

// LockContent is satisfied by the transaction's database write lock.
func (t *sqliteTx) LockContent(ctx context.Context, _ string) error {
	return ctx.Err()
}

// LockVersion is satisfied by the transaction's database write lock.
func (t *sqliteTx) LockVersion(ctx context.Context, _ string) error {
	return ctx.Err()
}

// MaxVersionNumber returns the highest version number for a content ID
// visible to this transaction.
func (t *sqliteTx) MaxVersionNumber(ctx context.Context, contentID string) (int, error) {
	var max int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_number), 0) FROM versions WHERE content_id = ?`,
		contentID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max version number: %w", err)
	}
	return max, nil
}

// InsertVersion inserts a version row.
func (t *sqliteTx) InsertVersion(ctx context.Context, version *contracts.Version) error {
	if version == nil {
		return fmt.Errorf("version is required")
	}
	payload, err := json.Marshal(version.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	metadata, err := json.Marshal(version.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO versions (id, content_id, version_number, payload, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		version.ID, version.ContentID, version.VersionNumber,
		string(payload), string(metadata), toMillis(version.CreatedAt))
	if isUniqueViolation(err) {
		return contracts.ErrVersionConflict
	}
	if err != nil {
		return contracts.NewPersistenceError("insert version", err)
	}
	return nil
}

// GetVersion reads a version, including rows written in this
// transaction.
func (t *sqliteTx) GetVersion(ctx context.Context, versionID string) (*contracts.Version, error) {
	return scanVersion(t.tx.QueryRowContext(ctx,
		`SELECT id, content_id, version_number, payload, metadata, created_at
		 FROM versions WHERE id = ?`, versionID))
}

// CurrentState reads the highest-sequence state visible to this
// transaction.
func (t *sqliteTx) CurrentState(ctx context.Context, versionID string) (*contracts.State, error) {
	return scanState(t.tx.QueryRowContext(ctx,
		`SELECT id, version_id, name, sequence, data, created_at
		 FROM states WHERE version_id = ? ORDER BY sequence DESC LIMIT 1`, versionID))
}

// InsertState appends a state row.
func (t *sqliteTx) InsertState(ctx context.Context, state *contracts.State) error {
	if state == nil {
		return fmt.Errorf("state is required")
	}
	data, err := json.Marshal(state.Data)
	if err != nil {
		return fmt.Errorf("marshal state data: %w", err)
	}

	_, err = t.tx.ExecContext(ctx,
		`INSERT INTO states (id, version_id, name, sequence, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		state.ID, state.VersionID, state.Name, state.Sequence,
		string(data), toMillis(state.CreatedAt))
	if isUniqueViolation(err) {
		return contracts.ErrStateConflict
	}
	if err != nil {
		return contracts.NewPersistenceError("insert state", err)
	}
	return nil
}

// Commit commits the transaction.
func (t *sqliteTx) Commit() error {
	if t.done {
		return fmt.Errorf("transaction already finished")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return contracts.NewPersistenceError("commit", err)
	}
	return nil
}

// Rollback rolls the transaction back. A no-op after Commit, so callers
// can defer it unconditionally.
func (t *sqliteTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return contracts.NewPersistenceError("rollback", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(row rowScanner) (*contracts.Version, error) {
	var (
		v               contracts.Version
		payload, meta   string
		createdAtMillis int64
	)
	err := row.Scan(&v.ID, &v.ContentID, &v.VersionNumber, &payload, &meta, &createdAtMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan version: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &v.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &v.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	v.CreatedAt = fromMillis(createdAtMillis)
	return &v, nil
}

func scanState(row rowScanner) (*contracts.State, error) {
	var (
		st              contracts.State
		data            string
		createdAtMillis int64
	)
	err := row.Scan(&st.ID, &st.VersionID, &st.Name, &st.Sequence, &data, &createdAtMillis)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, contracts.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan state: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &st.Data); err != nil {
		return nil, fmt.Errorf("unmarshal state data: %w", err)
	}
	st.CreatedAt = fromMillis(createdAtMillis)
	return &st, nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
