// Package relay moves audit events from the Postgres outbox to Kafka.
// Kafka is the source of truth for downstream audit consumers; the outbox
// guarantees an event written in a database transaction is eventually
// published even if the broker was down at write time.
package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the slice of the franz-go client the relay needs. Tests swap
// in a recorder.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Relay drains unpublished outbox rows into a Kafka topic.
type Relay struct {
	db       *sql.DB
	producer Producer
	topic    string
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// New builds a relay. Interval controls how often the outbox is polled.
func New(db *sql.DB, producer Producer, topic string, interval time.Duration, logger *slog.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	return &Relay{
		db:       db,
		producer: producer,
		topic:    topic,
		interval: interval,
		batch:    100,
		logger:   logger,
	}
}

// EnsureTopic creates the audit topic when it does not exist yet.
func EnsureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 1, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, r := range resp {
		if r.Err != nil && !errors.Is(r.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
		}
	}
	return nil
}

// Run polls the outbox until the context is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := r.RelayOnce(ctx); err != nil {
				// Broker hiccups are expected; rows stay queued for the next tick.
				r.logger.WarnContext(ctx, "outbox relay pass failed", "error", err)
			} else if n > 0 {
				r.logger.DebugContext(ctx, "outbox relay pass completed", "published", n)
			}
		}
	}
}

type outboxRow struct {
	id        string
	eventType string
	key       string
	payload   []byte
}

// RelayOnce publishes one batch of pending outbox rows and marks them
// relayed. Returns the number of rows published.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	const query = `
		SELECT id, event_type, aggregate_id, payload
		FROM outbox
		WHERE relayed_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, r.batch)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}

	var pending []outboxRow
	for rows.Next() {
		var row outboxRow
		if err := rows.Scan(&row.id, &row.eventType, &row.key, &row.payload); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan outbox row: %w", err)
		}
		pending = append(pending, row)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate outbox rows: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := 0
	for _, row := range pending {
		results := r.producer.ProduceSync(ctx, &kgo.Record{
			Topic: r.topic,
			Key:   []byte(row.key),
			Value: row.payload,
		})
		if err := results.FirstErr(); err != nil {
			// Stop here; unmarked rows are retried next pass in order.
			return published, fmt.Errorf("produce outbox row %s: %w", row.id, err)
		}

		const mark = `UPDATE outbox SET relayed_at = $1 WHERE id = $2`
		if _, err := r.db.ExecContext(ctx, mark, time.Now(), row.id); err != nil {
			return published, fmt.Errorf("mark outbox row %s relayed: %w", row.id, err)
		}
		published++
	}
	return published, nil
}
