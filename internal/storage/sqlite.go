package storage

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"prompt-relay/internal/auth"
)

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct{ db *sql.DB }

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "create db directory %s", dir)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.Wrapf(err, "open db at %s", path)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS access_lists (
  list TEXT NOT NULL,
  id INTEGER NOT NULL,
  added_at TIMESTAMP NOT NULL,
  PRIMARY KEY (list, id)
);

CREATE TABLE IF NOT EXISTS contexts (
  chat_id INTEGER PRIMARY KEY,
  prompt TEXT NOT NULL,
  added_at TIMESTAMP NOT NULL,
  updated_at TIMESTAMP NOT NULL
);
`)
	return errors.Wrap(err, "migrate sqlite store")
}

func (s *SQLiteStore) Contains(ctx context.Context, list auth.List, id int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM access_lists WHERE list = ? AND id = ?`, string(list), id).Scan(&one)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, errors.Wrap(err, "query access list")
	}
}

func (s *SQLiteStore) Add(ctx context.Context, list auth.List, id int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO access_lists (list, id, added_at) VALUES (?, ?, ?)`,
		string(list), id, time.Now().UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "insert access list entry")
}

func (s *SQLiteStore) Remove(ctx context.Context, list auth.List, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM access_lists WHERE list = ? AND id = ?`, string(list), id)
	return errors.Wrap(err, "delete access list entry")
}

func (s *SQLiteStore) Members(ctx context.Context, list auth.List) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM access_lists WHERE list = ? ORDER BY rowid`, string(list))
	if err != nil {
		return nil, errors.Wrap(err, "query access list members")
	}
	defer func() { _ = rows.Close() }()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan access list member")
		}
		out = append(out, id)
	}
	return out, errors.Wrap(rows.Err(), "iterate access list members")
}

func (s *SQLiteStore) GetContext(ctx context.Context, chatID int64) (string, bool, error) {
	var prompt string
	err := s.db.QueryRowContext(ctx, `SELECT prompt FROM contexts WHERE chat_id = ?`, chatID).Scan(&prompt)
	switch {
	case err == nil:
		return prompt, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	default:
		return "", false, errors.Wrap(err, "query context")
	}
}

func (s *SQLiteStore) SetContext(ctx context.Context, chatID int64, prompt string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO contexts (chat_id, prompt, added_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(chat_id) DO UPDATE SET prompt = excluded.prompt, updated_at = excluded.updated_at`,
		chatID, prompt, now, now)
	return errors.Wrap(err, "upsert context")
}

func (s *SQLiteStore) RemoveContext(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM contexts WHERE chat_id = ?`, chatID)
	return errors.Wrap(err, "delete context")
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
