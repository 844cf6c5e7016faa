package store

import (
	"context"
	"fmt"

	"github.com/safar/go-cart-store/internal/models"
)

type outboxRepo struct{ p *Postgres }

func (r outboxRepo) Append(ctx context.Context, event *models.OutboxEvent) error {
	err := r.p.q.QueryRowContext(ctx,
		`INSERT INTO outbox_events (aggregate_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING id, created_at`,
		event.AggregateID, event.EventType, string(event.Payload)).Scan(&event.ID, &event.CreatedAt)
	if err != nil {
		return fmt.Errorf("append outbox event: %w", err)
	}
	return nil
}

// ClaimUnpublished skips rows another poller already holds, so several
// instances can drain the outbox without double publishing a batch.
func (r outboxRepo) ClaimUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	rows, err := r.p.q.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at, published_at
		 FROM outbox_events
		 WHERE published_at IS NULL
		 ORDER BY id
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateID, &ev.EventType, &ev.Payload, &ev.CreatedAt, &ev.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return events, nil
}

func (r outboxRepo) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.p.q.ExecContext(ctx,
		`UPDATE outbox_events SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}
