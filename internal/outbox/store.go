package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record is an unpublished outbox row.
type Record struct {
	ID         string
	Topic      string
	Key        string
	Payload    []byte
	OccurredAt time.Time
	Attempts   int
}

// Stats summarizes one relay pass.
type Stats struct {
	Published int
	Failed    int
}

// Store hands out unpublished records in occurrence order.
type Store interface {
	// Relay claims up to limit records and calls publish for each in order. A failed publish
	// is recorded against the record and ends the pass so later events are not reordered.
	Relay(ctx context.Context, limit int, publish func(context.Context, Record) error) (Stats, error)
	Pending(ctx context.Context) (int64, error)
}

// PostgresStore claims rows with FOR UPDATE SKIP LOCKED so several relays can run side by side.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Relay(ctx context.Context, limit int, publish func(context.Context, Record) error) (Stats, error) {
	var stats Stats

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		records, err := claim(ctx, tx, limit)
		if err != nil {
			return err
		}

		for _, rec := range records {
			if pubErr := publish(ctx, rec); pubErr != nil {
				if _, err := tx.Exec(ctx, `
					UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1
				`, rec.ID, pubErr.Error()); err != nil {
					return fmt.Errorf("record outbox failure: %w", err)
				}
				stats.Failed++
				return nil
			}

			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET published_at = NOW(), attempts = attempts + 1, last_error = NULL WHERE id = $1
			`, rec.ID); err != nil {
				return fmt.Errorf("mark outbox published: %w", err)
			}
			stats.Published++
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("relay outbox batch: %w", err)
	}

	return stats, nil
}

func claim(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, topic, key, payload, occurred_at, attempts
		FROM outbox
		WHERE published_at IS NULL
		ORDER BY occurred_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select outbox batch: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Topic, &rec.Key, &rec.Payload, &rec.OccurredAt, &rec.Attempts); err != nil {
			return nil, fmt.Errorf("scan outbox record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox batch: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) Pending(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending outbox: %w", err)
	}
	return n, nil
}
