package ownership

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/trafegodns/trafegodns/internal/types"
)

// SQLiteLedger implements Ledger on an embedded SQLite database.
//
// A per-provider mutex serializes writes for one provider while letting
// reconcilers for different providers proceed in parallel; SQLite's WAL mode
// handles the rest.
type SQLiteLedger struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

const entryColumns = `id, provider, record_type, name, content_fingerprint, created_by, app_managed, created_at, updated_at`

type migration struct {
	Version int
	SQL     string
}

var migrations = []migration{
	{
		Version: 1,
		SQL: `
		CREATE TABLE IF NOT EXISTS ownership_entries (
			id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			record_type TEXT NOT NULL,
			name TEXT NOT NULL,
			content_fingerprint TEXT NOT NULL DEFAULT '',
			created_by TEXT NOT NULL,
			app_managed INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			UNIQUE(provider, record_type, name)
		);
		CREATE INDEX IF NOT EXISTS idx_ownership_provider ON ownership_entries(provider);

		CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
		`,
	},
}

// NewSQLiteLedger opens (creating if needed) the ledger database at path.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	return &SQLiteLedger{
		db:    db,
		path:  path,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Initialize creates tables and runs migrations.
func (l *SQLiteLedger) Initialize(ctx context.Context) error {
	current := l.schemaVersion(ctx)
	for _, m := range migrations {
		if m.Version > current {
			if _, err := l.db.ExecContext(ctx, m.SQL); err != nil {
				return fmt.Errorf("ledger migration %d failed: %w", m.Version, err)
			}
			if err := l.setSchemaVersion(ctx, m.Version); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the database.
func (l *SQLiteLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func (l *SQLiteLedger) providerLock(provider string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[provider]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[provider] = lock
	}
	return lock
}

// Track records ownership of a record.
func (l *SQLiteLedger) Track(ctx context.Context, provider string, record types.Record, createdBy string, appManaged bool) error {
	lock := l.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	name := types.CanonicalName(record.Name)
	now := time.Now().UTC()

	existing, err := l.get(ctx, provider, record.Type, name)
	if err != nil {
		return err
	}

	if existing != nil {
		// Monotonic ownership: never downgrade app_managed, never overwrite
		// created_by.
		managed := existing.AppManaged || appManaged
		_, err := l.db.ExecContext(ctx, `
			UPDATE ownership_entries
			SET content_fingerprint = ?, app_managed = ?, updated_at = ?
			WHERE provider = ? AND record_type = ? AND name = ?`,
			Fingerprint(record.Content), managed, now, provider, record.Type, name)
		if err != nil {
			return fmt.Errorf("failed to update ownership entry: %w", err)
		}
		return nil
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO ownership_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), provider, record.Type, name,
		Fingerprint(record.Content), createdBy, appManaged, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert ownership entry: %w", err)
	}
	return nil
}

// Untrack removes the entry for a record.
func (l *SQLiteLedger) Untrack(ctx context.Context, provider string, record types.Record) error {
	lock := l.providerLock(provider)
	lock.Lock()
	defer lock.Unlock()

	_, err := l.db.ExecContext(ctx, `
		DELETE FROM ownership_entries
		WHERE provider = ? AND record_type = ? AND name = ?`,
		provider, record.Type, types.CanonicalName(record.Name))
	if err != nil {
		return fmt.Errorf("failed to delete ownership entry: %w", err)
	}
	return nil
}

// IsOwned reports whether an owned entry exists.
func (l *SQLiteLedger) IsOwned(ctx context.Context, provider string, recordType types.RecordType, name string) (bool, error) {
	entry, err := l.Get(ctx, provider, recordType, name)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Owned(), nil
}

// Get returns the entry for an identity, or nil when absent.
func (l *SQLiteLedger) Get(ctx context.Context, provider string, recordType types.RecordType, name string) (*Entry, error) {
	return l.get(ctx, provider, recordType, types.CanonicalName(name))
}

func (l *SQLiteLedger) get(ctx context.Context, provider string, recordType types.RecordType, name string) (*Entry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM ownership_entries
		WHERE provider = ? AND record_type = ? AND name = ?`,
		provider, recordType, name)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read ownership entry: %w", err)
	}
	return entry, nil
}

// List returns all entries for a provider, newest first.
func (l *SQLiteLedger) List(ctx context.Context, provider string) ([]*Entry, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM ownership_entries
		WHERE provider = ?
		ORDER BY created_at DESC`, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to list ownership entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*Entry, error) {
	var e Entry
	var recordType string
	if err := s.Scan(&e.ID, &e.Provider, &recordType, &e.Name, &e.ContentFingerprint,
		&e.CreatedBy, &e.AppManaged, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.Type = types.RecordType(recordType)
	return &e, nil
}

func (l *SQLiteLedger) schemaVersion(ctx context.Context) int {
	var value string
	err := l.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&value)
	if err != nil {
		return 0
	}
	var v int
	fmt.Sscanf(value, "%d", &v)
	return v
}

func (l *SQLiteLedger) setSchemaVersion(ctx context.Context, version int) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('schema_version', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", version))
	if err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}
	return nil
}
