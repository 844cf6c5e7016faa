package orders

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/cache"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
	"github.com/safar/go-cart-store/internal/store/memstore"
)

func newServiceWithRedis(t *testing.T) (*Service, *memstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := memstore.New()
	return NewService(s, cache.NewRedisCache(client, 0), zap.NewNop()), s, mr
}

func seedOrder(t *testing.T, s *memstore.Store, userID int64, code string) *models.Order {
	t.Helper()
	order := &models.Order{
		UserID:   userID,
		Code:     code,
		Status:   models.OrderStatusPending,
		SubTotal: decimal.NewFromInt(500),
		Total:    decimal.NewFromInt(450),
		Items: []models.OrderItem{
			{ProductID: 1, Quantity: 1, PriceAtMoment: decimal.NewFromInt(500), DiscountAtMoment: 10, TitleAtMoment: "Mug"},
		},
	}
	ok, err := s.Orders().Create(context.Background(), order)
	require.NoError(t, err)
	require.True(t, ok)
	return order
}

func TestGetByCodeIsOwnerOnly(t *testing.T) {
	svc, s, _ := newServiceWithRedis(t)
	ctx := context.Background()
	owner := s.AddUser("owner@example.com", "owner")
	other := s.AddUser("other@example.com", "other")
	order := seedOrder(t, s, owner.ID, "ORD-260101000000-111")

	got, err := svc.GetByCode(ctx, order.Code, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Len(t, got.Items, 1)

	_, err = svc.GetByCode(ctx, order.Code, other.ID)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)

	_, err = svc.GetByCode(ctx, "ORD-missing", owner.ID)
	assert.ErrorIs(t, err, database.ErrOrderNotFound)
}

func TestGetByCodeFillsAndInvalidatesCache(t *testing.T) {
	svc, s, mr := newServiceWithRedis(t)
	ctx := context.Background()
	owner := s.AddUser("owner@example.com", "owner")
	order := seedOrder(t, s, owner.ID, "ORD-260101000000-222")

	_, err := svc.GetByCode(ctx, order.Code, owner.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists("order:"+order.Code))

	updated, err := svc.UpdateStatus(ctx, order.ID, "paid", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, updated.Status)
	assert.False(t, mr.Exists("order:"+order.Code))

	got, err := svc.GetByCode(ctx, order.Code, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, got.Status)
}

func TestGetByCodeServesFromCache(t *testing.T) {
	svc, s, mr := newServiceWithRedis(t)
	ctx := context.Background()
	owner := s.AddUser("owner@example.com", "owner")
	order := seedOrder(t, s, owner.ID, "ORD-260101000000-333")

	_, err := svc.GetByCode(ctx, order.Code, owner.ID)
	require.NoError(t, err)

	// a cached entry answers without touching the store
	cached := *order
	cached.Status = models.OrderStatusShipped
	require.NoError(t, cache.NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0).Set(ctx, &cached))

	got, err := svc.GetByCode(ctx, order.Code, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, got.Status)
}

func TestGetByCodeFallsBackWhenRedisIsDown(t *testing.T) {
	svc, s, mr := newServiceWithRedis(t)
	owner := s.AddUser("owner@example.com", "owner")
	order := seedOrder(t, s, owner.ID, "ORD-260101000000-444")
	mr.Close()

	got, err := svc.GetByCode(context.Background(), order.Code, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
}

func TestGetByCodeIgnoresCallerCancellation(t *testing.T) {
	svc, s, mr := newServiceWithRedis(t)
	owner := s.AddUser("owner@example.com", "owner")
	order := seedOrder(t, s, owner.ID, "ORD-260101000000-888")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// the shared lookup runs detached, so the cache is still filled
	got, err := svc.GetByCode(ctx, order.Code, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.True(t, mr.Exists("order:"+order.Code))
}

func TestUpdateStatusErrors(t *testing.T) {
	svc, s, _ := newServiceWithRedis(t)
	ctx := context.Background()
	owner := s.AddUser("owner@example.com", "owner")
	order := seedOrder(t, s, owner.ID, "ORD-260101000000-555")

	_, err := svc.UpdateStatus(ctx, order.ID, "lost", "admin-1")
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = svc.UpdateStatus(ctx, order.ID, "delivered", "admin-1")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.UpdateStatus(ctx, 777, "paid", "admin-1")
	assert.ErrorIs(t, err, database.ErrOrderNotFound)

	stored, err := s.Orders().GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, stored.Status)
	assert.Nil(t, stored.UpdatedByAdminID)
	assert.Empty(t, s.OutboxEvents())
}

func TestUpdateStatusKeepsSnapshot(t *testing.T) {
	svc, s, _ := newServiceWithRedis(t)
	ctx := context.Background()
	owner := s.AddUser("owner@example.com", "owner")
	order := seedOrder(t, s, owner.ID, "ORD-260101000000-666")

	for _, status := range []string{"paid", "shipped", "delivered"} {
		_, err := svc.UpdateStatus(ctx, order.ID, status, "admin-1")
		require.NoError(t, err)
	}

	stored, err := svc.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusDelivered, stored.Status)
	assert.Equal(t, order.Items[0].TitleAtMoment, stored.Items[0].TitleAtMoment)
	assert.True(t, stored.Items[0].PriceAtMoment.Equal(order.Items[0].PriceAtMoment))
	assert.True(t, stored.Total.Equal(order.Total))
	assert.Len(t, s.OutboxEvents(), 3)
}

func TestListByUserPaginates(t *testing.T) {
	svc, s, _ := newServiceWithRedis(t)
	ctx := context.Background()
	owner := s.AddUser("owner@example.com", "owner")
	other := s.AddUser("other@example.com", "other")
	for i := 0; i < 5; i++ {
		seedOrder(t, s, owner.ID, fmt.Sprintf("ORD-260101000000-%d", 700+i))
	}
	seedOrder(t, s, other.ID, "ORD-260101000000-799")

	var (
		seen   []int64
		cursor string
		pages  int
	)
	for {
		page, err := svc.ListByUser(ctx, owner.ID, cursor, 2)
		require.NoError(t, err)
		pages++
		for _, o := range page.Items {
			assert.Equal(t, owner.ID, o.UserID)
			seen = append(seen, o.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, 3, pages)
	require.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Greater(t, seen[i-1], seen[i], "newest first")
	}

	_, err := svc.ListByUser(ctx, owner.ID, "%%%", 2)
	assert.ErrorIs(t, err, store.ErrInvalidCursor)
}
