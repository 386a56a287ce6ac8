package sessions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_entries (
	session_id TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	PRIMARY KEY (session_id, key)
);
`

// SQLiteStore persists session entries in a SQLite database so that an
// unlocked session survives a server restart until it expires.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}
	// Pragmas in the DSN apply to every pooled connection.
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	log.Info().Str("path", path).Msg("SQLite session store opened")
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Scope(sessionID string) Storage {
	return &sqliteScope{db: s.db, id: sessionID}
}

func (s *SQLiteStore) Drop(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_entries WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("drop session %s: %w", sessionID, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteScope struct {
	db *sql.DB
	id string
}

func (q *sqliteScope) Get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := q.db.QueryRowContext(ctx,
		`SELECT value FROM session_entries WHERE session_id = ? AND key = ?`, q.id, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (q *sqliteScope) Put(ctx context.Context, entries map[string]string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for k, v := range entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO session_entries (session_id, key, value) VALUES (?, ?, ?)
			 ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value`,
			q.id, k, v); err != nil {
			return fmt.Errorf("put %s: %w", k, err)
		}
	}
	return tx.Commit()
}

func (q *sqliteScope) Remove(ctx context.Context, keys ...string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM session_entries WHERE session_id = ? AND key = ?`, q.id, k); err != nil {
			return fmt.Errorf("remove %s: %w", k, err)
		}
	}
	return tx.Commit()
}
