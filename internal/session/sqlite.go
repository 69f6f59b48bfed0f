package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/claw4business/quickbooks-online-cli/internal/models"
)

// SQLiteStore persists sessions in a local SQLite database so reconciliation
// state survives process restarts. The session body is stored as JSON; the
// key columns exist for lookups and uniqueness.
type SQLiteStore struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS reconciliation_sessions (
	account_id     TEXT NOT NULL,
	statement_date TEXT NOT NULL,
	payload        TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	PRIMARY KEY (account_id, statement_date)
)`

// NewSQLiteStore opens (creating if needed) the session database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	// Serializes writers for the same key across concurrent invocations.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure session database: %w", err)
	}

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (ss *SQLiteStore) Get(ctx context.Context, accountID string, statementDate time.Time) (*Session, error) {
	row := ss.db.QueryRowContext(ctx,
		"SELECT payload FROM reconciliation_sessions WHERE account_id = ? AND statement_date = ?",
		accountID, statementDate.Format(models.DateFormat))

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	return decodeSession(payload)
}

func (ss *SQLiteStore) Latest(ctx context.Context, accountID string) (*Session, error) {
	row := ss.db.QueryRowContext(ctx,
		`SELECT payload FROM reconciliation_sessions
		 WHERE account_id = ? ORDER BY statement_date DESC LIMIT 1`,
		accountID)

	var payload string
	if err := row.Scan(&payload); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read latest session: %w", err)
	}

	return decodeSession(payload)
}

func (ss *SQLiteStore) Put(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	_, err = ss.db.ExecContext(ctx,
		`INSERT INTO reconciliation_sessions (account_id, statement_date, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (account_id, statement_date) DO UPDATE SET
		   payload = excluded.payload, updated_at = excluded.updated_at`,
		sess.AccountID,
		sess.StatementDate.Format(models.DateFormat),
		string(payload),
		time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) Delete(ctx context.Context, accountID string, statementDate time.Time) error {
	_, err := ss.db.ExecContext(ctx,
		"DELETE FROM reconciliation_sessions WHERE account_id = ? AND statement_date = ?",
		accountID, statementDate.Format(models.DateFormat))
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (ss *SQLiteStore) Close() error {
	return ss.db.Close()
}

func decodeSession(payload string) (*Session, error) {
	var sess Session
	if err := json.Unmarshal([]byte(payload), &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}
