package crdb

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

func insertOutbox(ctx context.Context, tx pgx.Tx, rec domain.OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key, created_at)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING
	`, rec.ID, rec.AggregateType, rec.AggregateID, rec.EventType, rec.Payload, rec.DedupeKey, rec.CreatedAt)
	return err
}

// PublishOutbox claims up to limit NEW records, hands each to publish and
// marks the accepted ones PUBLISHED. Claimed rows are locked so concurrent
// publishers skip them. It stops at the first publish failure and commits
// what was already sent.
func (r *Repository) PublishOutbox(ctx context.Context, limit int, publish func(context.Context, domain.OutboxRecord) error) (int, error) {
	var sent int
	var pubErr error
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		sent, pubErr = 0, nil
		rows, err := tx.Query(ctx, `
			SELECT id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key, created_at
			FROM outbox WHERE status = 'NEW' ORDER BY created_at LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return err
		}
		var batch []domain.OutboxRecord
		for rows.Next() {
			var rec domain.OutboxRecord
			if err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType,
				&rec.Payload, &rec.Status, &rec.DedupeKey, &rec.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, rec)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if len(batch) == 0 {
			observability.OutboxLag.Set(0)
			return nil
		}
		observability.OutboxLag.Set(time.Since(batch[0].CreatedAt).Seconds())
		for _, rec := range batch {
			if pubErr = publish(ctx, rec); pubErr != nil {
				break
			}
			if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'PUBLISHED', published_at = now() WHERE id = $1`, rec.ID); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return sent, pubErr
}
