// internal/sandbox/eventlog.go
package sandbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrConcurrencyConflict = errors.New("concurrency conflict: version mismatch")

// Event is one recorded change to a loan.
type Event struct {
	ID            int64                  `json:"id"`
	AggregateID   string                 `json:"aggregate_id"`
	AggregateType string                 `json:"aggregate_type"`
	EventType     string                 `json:"event_type"`
	EventData     jsoniter.RawMessage    `json:"event_data"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Version       int                    `json:"version"`
	CreatedAt     time.Time              `json:"created_at"`
}

// EventLog is an append-only history of loan events, versioned per aggregate.
type EventLog interface {
	// Append stores e as the next version of its aggregate.
	Append(ctx context.Context, e Event) (Event, error)
	Load(ctx context.Context, aggregateID string) ([]Event, error)
}

// MemoryEventLog keeps events in process.
type MemoryEventLog struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventLog() *MemoryEventLog { return &MemoryEventLog{} }

func (l *MemoryEventLog) Append(ctx context.Context, e Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	version := 0
	for _, existing := range l.events {
		if existing.AggregateID == e.AggregateID && existing.Version > version {
			version = existing.Version
		}
	}
	e.ID = int64(len(l.events) + 1)
	e.Version = version + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	l.events = append(l.events, e)
	return e, nil
}

func (l *MemoryEventLog) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	events := []Event{}
	for _, e := range l.events {
		if e.AggregateID == aggregateID {
			events = append(events, e)
		}
	}
	return events, nil
}

const eventsSchema = `
CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	aggregate_id TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	metadata JSONB,
	version INT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (aggregate_id, version)
);`

// PostgresEventLog stores events in the events table.
type PostgresEventLog struct {
	db     *sql.DB
	tracer trace.Tracer
}

func NewPostgresEventLog(db *sql.DB) *PostgresEventLog {
	return &PostgresEventLog{
		db:     db,
		tracer: otel.Tracer("librarylink/sandbox/eventlog"),
	}
}

// Migrate creates the events table if it does not exist.
func (l *PostgresEventLog) Migrate(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, eventsSchema); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	return nil
}

func (l *PostgresEventLog) Append(ctx context.Context, e Event) (Event, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.append",
		trace.WithAttributes(
			attribute.String("aggregate.id", e.AggregateID),
			attribute.String("aggregate.type", e.AggregateType),
			attribute.String("event.type", e.EventType),
		),
	)
	defer span.End()

	tx, err := l.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Event{}, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int
	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM events
		WHERE aggregate_id = $1
	`, e.AggregateID).Scan(&current)
	if err != nil {
		return Event{}, fmt.Errorf("query current version: %w", err)
	}

	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return Event{}, fmt.Errorf("marshal metadata: %w", err)
	}

	e.Version = current + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO events (aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`, e.AggregateID, e.AggregateType, e.EventType, e.EventData, metadata, e.Version, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && (pqErr.Code == "23505" || pqErr.Code == "40001") {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return Event{}, ErrConcurrencyConflict
		}
		return Event{}, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "40001" {
			return Event{}, ErrConcurrencyConflict
		}
		return Event{}, fmt.Errorf("commit transaction: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("event.id", e.ID),
		attribute.Int("event.version", e.Version),
	)
	return e, nil
}

func (l *PostgresEventLog) Load(ctx context.Context, aggregateID string) ([]Event, error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.load",
		trace.WithAttributes(attribute.String("aggregate.id", aggregateID)),
	)
	defer span.End()

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, event_data, metadata, version, created_at
		FROM events
		WHERE aggregate_id = $1
		ORDER BY version ASC
	`, aggregateID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.AggregateType, &e.EventType, &e.EventData, &metadata, &e.Version, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata of event %d: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	span.SetAttributes(attribute.Int("events.loaded", len(events)))
	return events, nil
}
