package cart

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
)

func TestAssociateWithUserMergesIntoExistingCart(t *testing.T) {
	engine, s := setup(t)
	ctx := context.Background()
	user := s.AddUser("u@example.com", "u")
	p1 := addProduct(s, 100, 0, 10)
	p2 := addProduct(s, 200, 0, 10)
	userID := models.Identity{BuyerID: "device-a", UserID: user.ID}

	_, err := engine.AddItem(ctx, userID, p1.ID, 3)
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, userID, p2.ID, 1)
	require.NoError(t, err)
	_, err = engine.AddItem(ctx, models.Identity{BuyerID: "device-b"}, p1.ID, 2)
	require.NoError(t, err)

	merged, err := engine.AssociateWithUser(ctx, "device-b", user.ID)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{p1.ID: 5, p2.ID: 1}, quantities(merged))
	assert.True(t, merged.SubTotal.Equal(decimal.NewFromInt(700)))

	_, err = s.Carts().Get(ctx, models.AnonymousKey("device-b"))
	assert.ErrorIs(t, err, database.ErrCartNotFound)
	assert.Equal(t, 1, s.CartCount())

	again, err := engine.AssociateWithUser(ctx, "device-b", user.ID)
	require.NoError(t, err)
	assert.Nil(t, again, "second association finds nothing to merge")

	stored, err := s.Carts().Get(ctx, models.UserKey(user.ID))
	require.NoError(t, err)
	assert.Equal(t, map[int64]int{p1.ID: 5, p2.ID: 1}, quantities(stored))
}

func TestAssociateWithUserRebindsWhenUserHasNoCart(t *testing.T) {
	engine, s := setup(t)
	ctx := context.Background()
	user := s.AddUser("u@example.com", "u")
	p := addProduct(s, 100, 0, 10)

	anon, err := engine.AddItem(ctx, models.Identity{BuyerID: "b-1"}, p.ID, 2)
	require.NoError(t, err)

	bound, err := engine.AssociateWithUser(ctx, "b-1", user.ID)
	require.NoError(t, err)
	assert.Equal(t, anon.ID, bound.ID)
	require.NotNil(t, bound.UserID)
	assert.Equal(t, user.ID, *bound.UserID)
	assert.Equal(t, 1, s.CartCount())
}

func TestAssociateWithUserWithoutAnonymousCartIsNoop(t *testing.T) {
	engine, s := setup(t)
	user := s.AddUser("u@example.com", "u")

	c, err := engine.AssociateWithUser(context.Background(), "nobody", user.ID)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Equal(t, 0, s.CartCount())
}

func TestMergeDoesNotClampToStock(t *testing.T) {
	dst := &models.Cart{ID: 1, Items: []models.CartItem{{ProductID: 1, Quantity: 3, Product: models.Product{StockQuantity: 4}}}}
	src := &models.Cart{ID: 2, Items: []models.CartItem{
		{ID: 9, CartID: 2, ProductID: 1, Quantity: 3},
		{ID: 10, CartID: 2, ProductID: 2, Quantity: 1},
	}}

	Merge(dst, src)

	assert.Equal(t, map[int64]int{1: 6, 2: 1}, quantities(dst))
	assert.Equal(t, int64(1), dst.Items[1].CartID)
	assert.Zero(t, dst.Items[1].ID)
}
