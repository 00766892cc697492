package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"converse/internal/tracker"

	_ "modernc.org/sqlite"
)

// SQLiteTrackerStore persists trackers in a SQLite database, one row per
// event. Events are stored as their wire JSON so the schema never changes
// when an event type grows a field.
type SQLiteTrackerStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteTrackerStore opens (creating if needed) the database at path.
func NewSQLiteTrackerStore(path string) (*SQLiteTrackerStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &SQLiteTrackerStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteTrackerStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS senders (
		sender_id TEXT PRIMARY KEY,
		initial_slots TEXT NOT NULL DEFAULT '{}'
	);
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender_id TEXT NOT NULL REFERENCES senders(sender_id),
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_sender ON events(sender_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initialize schema: %w", err)
	}
	return nil
}

func (s *SQLiteTrackerStore) Get(ctx context.Context, senderID string) (*tracker.Tracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var slotsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT initial_slots FROM senders WHERE sender_id = ?`, senderID).Scan(&slotsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query sender %s: %w", senderID, err)
	}

	var initialSlots map[string]any
	if err := json.Unmarshal([]byte(slotsJSON), &initialSlots); err != nil {
		return nil, fmt.Errorf("decode initial slots for %s: %w", senderID, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM events WHERE sender_id = ? ORDER BY id`, senderID)
	if err != nil {
		return nil, fmt.Errorf("query events for %s: %w", senderID, err)
	}
	defer rows.Close()

	var events []tracker.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		ev, err := tracker.UnmarshalEvent([]byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode event for %s: %w", senderID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tracker.FromEvents(senderID, initialSlots, events), nil
}

func (s *SQLiteTrackerStore) Save(ctx context.Context, t *tracker.Tracker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slotsJSON, err := json.Marshal(t.InitialSlots())
	if err != nil {
		return fmt.Errorf("encode initial slots: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO senders (sender_id, initial_slots) VALUES (?, ?)
		 ON CONFLICT(sender_id) DO UPDATE SET initial_slots = excluded.initial_slots`,
		t.SenderID(), string(slotsJSON)); err != nil {
		return fmt.Errorf("save sender %s: %w", t.SenderID(), err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM events WHERE sender_id = ?`, t.SenderID()); err != nil {
		return fmt.Errorf("replace events for %s: %w", t.SenderID(), err)
	}
	for _, ev := range t.Events() {
		data, err := tracker.MarshalEvent(ev)
		if err != nil {
			return fmt.Errorf("encode event: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (sender_id, data) VALUES (?, ?)`,
			t.SenderID(), string(data)); err != nil {
			return fmt.Errorf("insert event for %s: %w", t.SenderID(), err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteTrackerStore) SenderIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT sender_id FROM senders ORDER BY sender_id`)
	if err != nil {
		return nil, fmt.Errorf("query senders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteTrackerStore) Close() error { return s.db.Close() }
