package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/store"
)

// OutboxPoller drains outbox_events into a Publisher. Rows are claimed and
// marked in one transaction, so an event is published at least once.
type OutboxPoller struct {
	store     store.Store
	publisher Publisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

func NewOutboxPoller(s store.Store, publisher Publisher, interval time.Duration, batchSize int, logger *zap.Logger) *OutboxPoller {
	return &OutboxPoller{
		store:     s,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("outbox poll failed", zap.Error(err))
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// PublishPending publishes one batch and returns how many events went out.
// A publish failure stops the batch; the remaining rows stay unpublished.
func (p *OutboxPoller) PublishPending(ctx context.Context) (int, error) {
	published := 0
	err := p.store.WithTx(ctx, database.DefaultTxOptions(), func(tx store.Store) error {
		published = 0
		events, err := tx.Outbox().ClaimUnpublished(ctx, p.batchSize)
		if err != nil {
			return err
		}

		for _, ev := range events {
			if err := p.publisher.Publish(ctx, ev); err != nil {
				p.logger.Warn("publish outbox event",
					zap.Int64("event_id", ev.ID),
					zap.String("event_type", ev.EventType),
					zap.Error(err))
				return nil
			}
			if err := tx.Outbox().MarkPublished(ctx, ev.ID); err != nil {
				return err
			}
			published++
		}
		return nil
	})
	return published, err
}
