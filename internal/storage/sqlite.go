package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding the active file pointer and the chat log.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "chatbot_data.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Active file ---

// ActiveFile returns the most recently set active file, or ErrNotFound.
func (s *Store) ActiveFile() (ActiveFile, error) {
	var f ActiveFile
	var uploadedAt string
	err := s.db.QueryRow(`SELECT id, filename, uploaded_at FROM current_file ORDER BY id DESC LIMIT 1`).
		Scan(&f.ID, &f.Filename, &uploadedAt)
	if err == sql.ErrNoRows {
		return ActiveFile{}, ErrNotFound
	}
	if err != nil {
		return ActiveFile{}, err
	}
	t, err := time.Parse(time.RFC3339, uploadedAt)
	if err != nil {
		return ActiveFile{}, fmt.Errorf("parsing uploaded_at: %w", err)
	}
	f.UploadedAt = t
	return f, nil
}

// SetActiveFile replaces the active file pointer. The chat log is untouched.
func (s *Store) SetActiveFile(filename string) error {
	return s.withTx(func(tx *sql.Tx) error {
		return setActiveFile(tx, filename)
	})
}

// ReplaceActiveFile points at a newly uploaded file and clears the chat log
// in one transaction.
func (s *Store) ReplaceActiveFile(filename string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if err := setActiveFile(tx, filename); err != nil {
			return err
		}
		if _, err := tx.Exec(`DELETE FROM chat_history`); err != nil {
			return fmt.Errorf("clearing chat history: %w", err)
		}
		return nil
	})
}

// ResetActiveFile clears both the active file pointer and the chat log.
func (s *Store) ResetActiveFile() error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM current_file`); err != nil {
			return fmt.Errorf("clearing current file: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM chat_history`); err != nil {
			return fmt.Errorf("clearing chat history: %w", err)
		}
		return nil
	})
}

func setActiveFile(tx *sql.Tx, filename string) error {
	if _, err := tx.Exec(`DELETE FROM current_file`); err != nil {
		return fmt.Errorf("clearing current file: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO current_file (filename, uploaded_at) VALUES (?, ?)`,
		filename, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("inserting current file: %w", err)
	}
	return nil
}

func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Chat log ---

// AppendChat stores one (message, response) pair and returns its id.
func (s *Store) AppendChat(message, response string) (int64, error) {
	res, err := s.db.Exec(`INSERT INTO chat_history (message, response, created_at) VALUES (?, ?, ?)`,
		message, response, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListChats returns chat records newest first.
func (s *Store) ListChats(limit, offset int) ([]ChatRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, message, response, created_at
		FROM chat_history ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ChatRecord
	for rows.Next() {
		var r ChatRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.Message, &r.Response, &createdAt); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.CreatedAt = t
		results = append(results, r)
	}
	return results, rows.Err()
}

// CountChats returns the number of records in the chat log.
func (s *Store) CountChats() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chat_history`).Scan(&n)
	return n, err
}

// ClearChats deletes the whole chat log.
func (s *Store) ClearChats() error {
	_, err := s.db.Exec(`DELETE FROM chat_history`)
	return err
}
