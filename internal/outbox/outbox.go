// Package outbox persists change events alongside store writes and delivers
// them to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Event is a change event ready to be recorded in the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	// DedupeKey makes re-inserting the same event a no-op.
	DedupeKey string
	Payload   any
}

// Message represents a row fetched from the outbox table.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	PartitionKey  string
	Payload       json.RawMessage
}

// Insert records ev inside tx so it commits or rolls back with the write
// that produced it.
func Insert(ctx context.Context, tx pgx.Tx, ev Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", ev.EventType, err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO outbox (aggregate_type, aggregate_id, event_type, topic, partition_key, payload, dedupe_key)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         ON CONFLICT (dedupe_key) DO NOTHING`,
		ev.AggregateType, ev.AggregateID, ev.EventType, ev.Topic, ev.PartitionKey, payload, ev.DedupeKey,
	)
	if err != nil {
		return fmt.Errorf("insert outbox %s: %w", ev.EventType, err)
	}
	return nil
}
