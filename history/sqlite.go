package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS command_history (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    command TEXT NOT NULL,
    stdout TEXT NOT NULL,
    stderr TEXT NOT NULL,
    exit_code INTEGER NOT NULL,
    duration_ns INTEGER NOT NULL,
    created_at TEXT NOT NULL
);
`

// SQLiteLedger keeps the history in a SQLite database so it survives service restarts.
type SQLiteLedger struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the history database at path.
func OpenSQLite(path string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// one writer keeps seq order identical to append order
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying sqlite schema: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

func (l *SQLiteLedger) Append(e Entry) error {
	_, err := l.db.Exec(
		`INSERT INTO command_history (id, command, stdout, stderr, exit_code, duration_ns, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Command, e.Stdout, e.Stderr, e.ExitCode, int64(e.Duration), e.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) All() ([]Entry, error) {
	rows, err := l.db.Query(`SELECT id, command, stdout, stderr, exit_code, duration_ns, created_at FROM command_history ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			durNS     int64
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.Command, &e.Stdout, &e.Stderr, &e.ExitCode, &durNS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Duration = time.Duration(durNS)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing history timestamp %q: %w", createdAt, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (l *SQLiteLedger) Clear() error {
	_, err := l.db.Exec(`DELETE FROM command_history`)
	if err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	return nil
}
