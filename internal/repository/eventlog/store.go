package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/oshokin/ship-safety/internal/domain/safety"
)

// ErrClosed is returned when the store was not opened or is already closed.
var ErrClosed = errors.New("event store is not configured")

// Store persists events in a SQLite database.
type Store struct {
	sqlDB *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies migrations.
func Open(path string) (*Store, error) {
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, errors.New("storage path is required")
	}

	dsn := cleanPath + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}

	// SQLite serialises writers anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("ping sqlite store: %w", err)
	}

	if err := migrate(context.Background(), sqlDB); err != nil {
		_ = sqlDB.Close()

		return nil, fmt.Errorf("migrate sqlite store: %w", err)
	}

	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}

	return s.sqlDB.Close()
}

// Append stores the event, replacing an earlier copy with the same ID.
func (s *Store) Append(ctx context.Context, event *safety.SystemEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s == nil || s.sqlDB == nil {
		return ErrClosed
	}

	if event == nil || event.ID == "" {
		return errors.New("event id is required")
	}

	payload, err := marshalColumn(event.Payload, "{}")
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	actions, err := marshalColumn(event.ResponseActions, "[]")
	if err != nil {
		return fmt.Errorf("marshal response actions: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO events (id, source_system, event_type, payload, timestamp_ms, processed, response_actions)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    source_system = excluded.source_system,
    event_type = excluded.event_type,
    payload = excluded.payload,
    timestamp_ms = excluded.timestamp_ms,
    processed = excluded.processed,
    response_actions = excluded.response_actions`,
		event.ID,
		string(event.Source),
		event.Kind,
		payload,
		toMillis(event.Timestamp),
		boolToInt(event.Processed),
		actions,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", event.ID, err)
	}

	return nil
}

// Since returns events newer than or equal to since, newest first.
// A non-positive limit returns every matching event.
func (s *Store) Since(ctx context.Context, since time.Time, limit int) ([]*safety.SystemEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if s == nil || s.sqlDB == nil {
		return nil, ErrClosed
	}

	query := `
SELECT id, source_system, event_type, payload, timestamp_ms, processed, response_actions
FROM events
WHERE timestamp_ms >= ?
ORDER BY timestamp_ms DESC, rowid DESC`

	args := []any{toMillis(since)}
	if limit > 0 {
		query += "\nLIMIT ?"

		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []*safety.SystemEvent

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// Count returns the number of archived events.
func (s *Store) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s == nil || s.sqlDB == nil {
		return 0, ErrClosed
	}

	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}

	return count, nil
}

func scanEvent(rows *sql.Rows) (*safety.SystemEvent, error) {
	var (
		event       safety.SystemEvent
		source      string
		payload     string
		actions     string
		timestampMs int64
		processed   int
	)

	if err := rows.Scan(&event.ID, &source, &event.Kind, &payload, &timestampMs, &processed, &actions); err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}

	event.Source = safety.SystemType(source)
	event.Timestamp = fromMillis(timestampMs)
	event.Processed = processed != 0

	if err := json.Unmarshal([]byte(payload), &event.Payload); err != nil {
		return nil, fmt.Errorf("decode payload of %s: %w", event.ID, err)
	}

	if err := json.Unmarshal([]byte(actions), &event.ResponseActions); err != nil {
		return nil, fmt.Errorf("decode response actions of %s: %w", event.ID, err)
	}

	if len(event.ResponseActions) == 0 {
		event.ResponseActions = nil
	}

	return &event, nil
}

func marshalColumn(value any, empty string) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	if string(data) == "null" {
		return empty, nil
	}

	return string(data), nil
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}

	return 0
}
