package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jordanhubbard/devteam-runner/internal/idempotency"
	"github.com/jordanhubbard/devteam-runner/pkg/models"
)

// AppendResult reports whether Append created a new event or returned
// a prior one because of an idempotency-key match (§4.C).
type AppendResult struct {
	Event    *models.Event
	Replayed bool
}

// EventStore implements §4.C: append-only event persistence with
// idempotency-key de-duplication via the Redis-backed claim store.
type EventStore struct {
	db          *DB
	idempotency *idempotency.Store
}

func NewEventStore(db *DB, idempotencyStore *idempotency.Store) *EventStore {
	return &EventStore{db: db, idempotency: idempotencyStore}
}

// Append persists event, or returns the prior envelope unchanged if
// its idempotencyKey was already claimed within the TTL window
// (§4.C, §3 invariant 5).
func (s *EventStore) Append(ctx context.Context, event *models.Event) (*AppendResult, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	if event.IdempotencyKey != "" {
		claimed, existingID, err := s.idempotency.Claim(ctx, event.ProjectID, event.IdempotencyKey, event.ID)
		if err != nil {
			return nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		if !claimed {
			prior, err := s.Get(ctx, existingID)
			if err != nil {
				return nil, fmt.Errorf("load replayed event %s: %w", existingID, err)
			}
			return &AppendResult{Event: prior, Replayed: true}, nil
		}
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal event payload: %w", err)
	}

	var idempotencyKey interface{}
	if event.IdempotencyKey != "" {
		idempotencyKey = event.IdempotencyKey
	}

	_, err = s.db.SQL().ExecContext(ctx, rebind(`
		INSERT INTO events (id, project_id, type, correlation_id, idempotency_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`), event.ID, event.ProjectID, string(event.Type), event.CorrelationID, idempotencyKey, payload, event.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			// Lost a race against a concurrent append with the same
			// idempotency key; the other writer's event is authoritative.
			prior, getErr := s.getByIdempotencyKey(ctx, event.ProjectID, event.IdempotencyKey)
			if getErr == nil {
				return &AppendResult{Event: prior, Replayed: true}, nil
			}
		}
		return nil, fmt.Errorf("insert event: %w", err)
	}

	return &AppendResult{Event: event}, nil
}

// Get retrieves an event by ID.
func (s *EventStore) Get(ctx context.Context, id string) (*models.Event, error) {
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT id, project_id, type, correlation_id, idempotency_key, payload, created_at
		FROM events WHERE id = ?
	`), id)
	return scanEvent(row)
}

func (s *EventStore) getByIdempotencyKey(ctx context.Context, projectID, idempotencyKey string) (*models.Event, error) {
	row := s.db.SQL().QueryRowContext(ctx, rebind(`
		SELECT id, project_id, type, correlation_id, idempotency_key, payload, created_at
		FROM events WHERE project_id = ? AND idempotency_key = ?
	`), projectID, idempotencyKey)
	return scanEvent(row)
}

func scanEvent(row *sql.Row) (*models.Event, error) {
	var e models.Event
	var eventType string
	var correlationID, idempotencyKey sql.NullString
	var payload []byte

	if err := row.Scan(&e.ID, &e.ProjectID, &eventType, &correlationID, &idempotencyKey, &payload, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("event not found")
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}

	e.Type = models.EventType(eventType)
	e.CorrelationID = correlationID.String
	e.IdempotencyKey = idempotencyKey.String
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return nil, fmt.Errorf("unmarshal event payload: %w", err)
	}
	return &e, nil
}
