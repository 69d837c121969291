// Package localstore is the client's durable local state, keyed by logical
// collection. Document collections hold JSON values by key; pending
// collections hold queued requests awaiting replay.
package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlitemigrate "github.com/louisbranch/taskhub/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/taskhub/internal/services/notifications/client/localstore/migrations"
	_ "modernc.org/sqlite"
)

// Collection names one logical local collection.
type Collection string

const (
	Tasks                Collection = "tasks"
	PendingTasks         Collection = "pendingTasks"
	Notifications        Collection = "notifications"
	PendingNotifications Collection = "pendingNotifications"
	UserData             Collection = "userData"
)

var (
	// ErrNotFound indicates a missing document.
	ErrNotFound = errors.New("local document not found")
	// ErrUnknownCollection indicates a collection outside the fixed set, or
	// the wrong kind of collection for the call.
	ErrUnknownCollection = errors.New("unknown local collection")
)

func (c Collection) isDocument() bool {
	switch c {
	case Tasks, Notifications, UserData:
		return true
	}
	return false
}

func (c Collection) isPending() bool {
	return c == PendingTasks || c == PendingNotifications
}

// PendingAction is one queued request.
type PendingAction struct {
	ID        int64
	URL       string
	Method    string
	Body      []byte
	Timestamp time.Time
}

// Store is the SQLite-backed local store.
type Store struct {
	db *sqlx.DB
}

type documentRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

type pendingRow struct {
	ID        int64  `db:"id"`
	URL       string `db:"url"`
	Method    string `db:"method"`
	Body      string `db:"body"`
	Timestamp int64  `db:"timestamp"`
}

// Open opens or creates the local store at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("local store path is required")
	}
	db, err := sqlx.Open("sqlite", filepath.Clean(path)+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), db.DB, migrations.FS, "."); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run local store migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores value as JSON under key.
func (s *Store) Put(ctx context.Context, collection Collection, key string, value any) error {
	if !collection.isDocument() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO documents (collection, key, value, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT (collection, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, string(collection), key, string(encoded), time.Now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("put %s/%s: %w", collection, key, err)
	}
	return nil
}

// Get decodes the document under key into dest.
func (s *Store) Get(ctx context.Context, collection Collection, key string, dest any) error {
	if !collection.isDocument() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	var value string
	if err := s.db.GetContext(ctx, &value, `SELECT value FROM documents WHERE collection = ? AND key = ?`, string(collection), key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("get %s/%s: %w", collection, key, err)
	}
	return json.Unmarshal([]byte(value), dest)
}

// List returns every document of collection keyed by document key.
func (s *Store) List(ctx context.Context, collection Collection) (map[string]json.RawMessage, error) {
	if !collection.isDocument() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	var rows []documentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM documents WHERE collection = ? ORDER BY key`, string(collection)); err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	out := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		out[row.Key] = json.RawMessage(row.Value)
	}
	return out, nil
}

// Delete removes one document. Missing documents are not an error.
func (s *Store) Delete(ctx context.Context, collection Collection, key string) error {
	if !collection.isDocument() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND key = ?`, string(collection), key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, key, err)
	}
	return nil
}

// Clear removes every document of collection.
func (s *Store) Clear(ctx context.Context, collection Collection) error {
	if !collection.isDocument() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, string(collection)); err != nil {
		return fmt.Errorf("clear %s: %w", collection, err)
	}
	return nil
}

// AppendPending queues action on a pending collection and returns its id.
func (s *Store) AppendPending(ctx context.Context, collection Collection, action PendingAction) (int64, error) {
	if !collection.isPending() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if strings.TrimSpace(action.URL) == "" || strings.TrimSpace(action.Method) == "" {
		return 0, fmt.Errorf("pending action url and method are required")
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}
	result, err := s.db.ExecContext(ctx, `
INSERT INTO pending_actions (collection, url, method, body, timestamp) VALUES (?, ?, ?, ?, ?)
`, string(collection), action.URL, strings.ToUpper(action.Method), string(action.Body), action.Timestamp.UTC().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("append pending %s: %w", collection, err)
	}
	return result.LastInsertId()
}

// ListPending returns queued actions oldest first.
func (s *Store) ListPending(ctx context.Context, collection Collection) ([]PendingAction, error) {
	if !collection.isPending() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	var rows []pendingRow
	if err := s.db.SelectContext(ctx, &rows, `
SELECT id, url, method, body, timestamp FROM pending_actions
WHERE collection = ?
ORDER BY timestamp, id
`, string(collection)); err != nil {
		return nil, fmt.Errorf("list pending %s: %w", collection, err)
	}
	actions := make([]PendingAction, 0, len(rows))
	for _, row := range rows {
		action := PendingAction{
			ID:        row.ID,
			URL:       row.URL,
			Method:    row.Method,
			Timestamp: time.UnixMilli(row.Timestamp).UTC(),
		}
		if row.Body != "" {
			action.Body = []byte(row.Body)
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// DeletePending removes one queued action.
func (s *Store) DeletePending(ctx context.Context, collection Collection, actionID int64) error {
	if !collection.isPending() {
		return fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE collection = ? AND id = ?`, string(collection), actionID); err != nil {
		return fmt.Errorf("delete pending %s/%d: %w", collection, actionID, err)
	}
	return nil
}
