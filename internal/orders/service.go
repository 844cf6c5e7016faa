package orders

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/safar/go-cart-store/internal/cache"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
)

var (
	ErrInvalidStatus     = errors.New("invalid order status")
	ErrInvalidTransition = errors.New("order status transition not allowed")
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Service struct {
	store  store.Store
	cache  cache.OrderCache
	sfg    singleflight.Group
	logger *zap.Logger
}

func NewService(s store.Store, c cache.OrderCache, logger *zap.Logger) *Service {
	if c == nil {
		c = cache.Nop{}
	}
	return &Service{store: s, cache: c, logger: logger}
}

// UpdateStatus moves the order to the named status on behalf of an admin.
// A request for the current status succeeds and only refreshes the audit
// fields.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, status, adminID string) (*models.Order, error) {
	to, err := models.ParseOrderStatus(status)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var (
		updated *models.Order
		from    models.OrderStatus
	)
	err = s.store.WithTx(ctx, database.DefaultTxOptions(), func(tx store.Store) error {
		order, err := tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}

		from = order.Status
		if !from.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s to %s", ErrInvalidTransition, from, to)
		}

		if err := tx.Orders().UpdateStatus(ctx, orderID, to, adminID); err != nil {
			return err
		}

		updated, err = tx.Orders().GetByID(ctx, orderID)
		if err != nil {
			return err
		}
		if from == to {
			return nil
		}

		event, err := events.NewOrderStatusChanged(updated, from, adminID)
		if err != nil {
			return err
		}
		return tx.Outbox().Append(ctx, event)
	})
	if err != nil {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	if err := s.cache.Delete(ctx, updated.Code); err != nil {
		s.logger.Warn("invalidate cached order", zap.String("code", updated.Code), zap.Error(err))
	}

	s.logger.Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Bool("terminal", to.IsTerminal()),
		zap.String("admin_id", adminID))
	return updated, nil
}

// GetByCode returns the order only to its owner; anyone else gets
// ErrOrderNotFound so codes cannot be guessed.
func (s *Service) GetByCode(ctx context.Context, code string, userID int64) (*models.Order, error) {
	v, err, _ := s.sfg.Do(code, func() (any, error) {
		// shared by every waiter, so one caller's cancellation must not fail the rest
		sfCtx := context.WithoutCancel(ctx)

		order, err := s.cache.Get(sfCtx, code)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("order cache read failed", zap.String("code", code), zap.Error(err))
		}

		order, err = s.store.Orders().GetByCode(sfCtx, code)
		if err != nil {
			return nil, err
		}

		if err := s.cache.Set(sfCtx, order); err != nil {
			s.logger.Warn("order cache write failed", zap.String("code", code), zap.Error(err))
		}
		return order, nil
	})
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}

	order := v.(*models.Order)
	if order.UserID != userID {
		return nil, fmt.Errorf("get order: %w", database.ErrOrderNotFound)
	}
	return order, nil
}

// GetByID is the administrative read; it bypasses the cache.
func (s *Service) GetByID(ctx context.Context, orderID int64) (*models.Order, error) {
	order, err := s.store.Orders().GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *Service) ListByUser(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage, error) {
	switch {
	case limit <= 0:
		limit = DefaultPageSize
	case limit > MaxPageSize:
		limit = MaxPageSize
	}

	page, err := s.store.Orders().ListByUser(ctx, userID, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return page, nil
}
