package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/cart"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store/memstore"
)

const defaultImage = "https://cdn.example.com/default.png"

type fixture struct {
	store      *memstore.Store
	carts      *cart.Engine
	reconciler *Reconciler
	user       models.User
	id         models.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s := memstore.New()
	user := s.AddUser("buyer@example.com", "Buyer")
	return &fixture{
		store:      s,
		carts:      cart.NewEngine(s, zap.NewNop()),
		reconciler: NewReconciler(s, Options{MaxCodeAttempts: 10, DefaultImageURL: defaultImage}, zap.NewNop()),
		user:       user,
		id:         models.Identity{BuyerID: "b-1", UserID: user.ID},
	}
}

func (f *fixture) product(t *testing.T, name string, price int64, discount, stock int) models.Product {
	t.Helper()
	return f.store.AddProduct(models.Product{
		SKU:           name,
		Name:          name,
		Description:   name + " description",
		Price:         decimal.NewFromInt(price),
		Discount:      discount,
		StockQuantity: stock,
		IsAvailable:   true,
	})
}

func (f *fixture) add(t *testing.T, productID int64, qty int) {
	t.Helper()
	_, err := f.carts.AddItem(context.Background(), f.id, productID, qty)
	require.NoError(t, err)
}

func (f *fixture) setStock(productID int64, stock int) {
	f.store.UpdateProduct(productID, func(p *models.Product) { p.StockQuantity = stock })
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	p, ok := f.store.Product(productID)
	require.True(t, ok)
	return p.StockQuantity
}

func TestCheckoutMissingOrEmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reconciler.Checkout(ctx, f.id)
	assert.ErrorIs(t, err, database.ErrCartNotFound)

	_, err = f.carts.CreateOrGet(ctx, f.id)
	require.NoError(t, err)

	_, err = f.reconciler.Checkout(ctx, f.id)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = f.reconciler.CreateOrder(ctx, f.user.ID)
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCreateOrderWithoutCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.reconciler.CreateOrder(context.Background(), f.user.ID)
	assert.ErrorIs(t, err, database.ErrCartNotFound)

	_, err = f.reconciler.CreateOrder(context.Background(), 424242)
	assert.ErrorIs(t, err, database.ErrUserNotFound)
}

func TestCheckoutAdjustsThenOrderSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.product(t, "P1", 100, 0, 5)
	f.add(t, p1.ID, 5)
	f.setStock(p1.ID, 2)

	v, err := f.reconciler.Checkout(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, StatusAdjusted, v.Status)
	require.Len(t, v.Cart.Items, 1)
	assert.Equal(t, 2, v.Cart.Items[0].Quantity)
	assert.True(t, v.Cart.SubTotal.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, []Adjustment{{ProductID: p1.ID, Requested: 5, Available: 2}}, v.Adjustments)
	assert.Zero(t, f.store.OrderCount())
	assert.Equal(t, 2, f.stock(t, p1.ID))

	v, err = f.reconciler.Checkout(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, v.Status)
	assert.Empty(t, v.Adjustments)

	order, err := f.reconciler.CreateOrder(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.True(t, order.SubTotal.Equal(decimal.NewFromInt(200)))
	assert.Equal(t, 0, f.stock(t, p1.ID))

	c, err := f.carts.CreateOrGet(ctx, f.id)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
	assert.True(t, c.Total.IsZero())

	events := f.store.OutboxEvents()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventOrderCreated, events[0].EventType)
}

func TestCheckoutDropsSoldOutAndWithdrawnLines(t *testing.T) {
	f := newFixture(t)
	soldOut := f.product(t, "sold-out", 100, 0, 3)
	withdrawn := f.product(t, "withdrawn", 100, 0, 3)
	fine := f.product(t, "fine", 300, 10, 3)
	f.add(t, soldOut.ID, 1)
	f.add(t, withdrawn.ID, 1)
	f.add(t, fine.ID, 2)

	f.setStock(soldOut.ID, 0)
	f.store.UpdateProduct(withdrawn.ID, func(p *models.Product) { p.IsAvailable = false })

	v, err := f.reconciler.Checkout(context.Background(), f.id)
	require.NoError(t, err)
	assert.Equal(t, StatusAdjusted, v.Status)
	require.Len(t, v.Cart.Items, 1)
	assert.Equal(t, fine.ID, v.Cart.Items[0].ProductID)
	assert.True(t, v.Cart.SubTotal.Equal(decimal.NewFromInt(600)))
	assert.True(t, v.Cart.Total.Equal(decimal.NewFromInt(540)))
	for _, a := range v.Adjustments {
		assert.True(t, a.Removed)
	}
}

func TestCreateOrderRevalidatesInsteadOfTrustingEarlierPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 100, 0, 4)
	f.add(t, p.ID, 4)

	v, err := f.reconciler.Checkout(ctx, f.id)
	require.NoError(t, err)
	require.Equal(t, StatusReady, v.Status)

	f.setStock(p.ID, 1)

	_, err = f.reconciler.CreateOrder(ctx, f.user.ID)
	require.ErrorIs(t, err, ErrCartAdjusted)

	var adjusted *AdjustedError
	require.True(t, errors.As(err, &adjusted))
	assert.Equal(t, 1, adjusted.Validation.Cart.Items[0].Quantity)
	assert.Zero(t, f.store.OrderCount())
	assert.Equal(t, 1, f.stock(t, p.ID))

	stored, err := f.store.Carts().Get(ctx, models.UserKey(f.user.ID))
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Items[0].Quantity, "adjusted cart is persisted")

	order, err := f.reconciler.CreateOrder(ctx, f.user.ID)
	require.NoError(t, err)
	assert.Len(t, order.Items, 1)
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestLateStockShortfallRollsBackOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p1 := f.product(t, "P1", 100, 0, 5)
	p2 := f.product(t, "P2", 100, 0, 5)
	f.add(t, p1.ID, 2)
	f.add(t, p2.ID, 3)

	// stock reads as sufficient, but only one unit is left when decrementing
	f.setStock(p2.ID, 1)
	f.store.InjectStaleStock(p2.ID, 5)

	_, err := f.reconciler.CreateOrder(ctx, f.user.ID)
	require.ErrorIs(t, err, database.ErrInsufficientStock)

	assert.Zero(t, f.store.OrderCount())
	assert.Empty(t, f.store.OutboxEvents())
	assert.Equal(t, 5, f.stock(t, p1.ID))
	assert.Equal(t, 1, f.stock(t, p2.ID))

	c, err := f.store.Carts().Get(ctx, models.UserKey(f.user.ID))
	require.NoError(t, err)
	assert.Len(t, c.Items, 2)
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	s := memstore.New()
	carts := cart.NewEngine(s, zap.NewNop())
	reconciler := NewReconciler(s, Options{}, zap.NewNop())
	p := s.AddProduct(models.Product{Name: "hot", Price: decimal.NewFromInt(10), StockQuantity: 20, IsAvailable: true})

	const buyers = 30
	var users []models.User
	for i := 0; i < buyers; i++ {
		u := s.AddUser("buyer", "buyer")
		_, err := carts.AddItem(context.Background(), models.Identity{BuyerID: "b", UserID: u.ID}, p.ID, 1)
		require.NoError(t, err)
		users = append(users, u)
	}
	s.UpdateProduct(p.ID, func(p *models.Product) { p.StockQuantity = 5 })

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		adjusted int
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := reconciler.CreateOrder(context.Background(), userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrCartAdjusted):
				adjusted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 5, created)
	assert.Equal(t, buyers-5, adjusted)
	stored, _ := s.Product(p.ID)
	assert.Equal(t, 0, stored.StockQuantity)
	assert.Equal(t, 5, s.OrderCount())
}

func TestOrderSnapshotSurvivesProductEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "Lamp", 2500, 20, 3)
	f.store.UpdateProduct(p.ID, func(p *models.Product) { p.ImageURL = "" })
	f.add(t, p.ID, 2)

	order, err := f.reconciler.CreateOrder(ctx, f.user.ID)
	require.NoError(t, err)

	f.store.UpdateProduct(p.ID, func(p *models.Product) {
		now := time.Now()
		p.Name = "Renamed"
		p.Price = decimal.NewFromInt(1)
		p.Discount = 0
		p.ImageURL = "https://cdn.example.com/new.png"
		p.DeletedAt = &now
	})

	stored, err := f.store.Orders().GetByCode(ctx, order.Code)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	item := stored.Items[0]
	assert.Equal(t, "Lamp", item.TitleAtMoment)
	assert.Equal(t, "Lamp description", item.DescriptionAtMoment)
	assert.True(t, item.PriceAtMoment.Equal(decimal.NewFromInt(2500)))
	assert.Equal(t, 20, item.DiscountAtMoment)
	assert.Equal(t, defaultImage, item.ImageAtMoment)
	assert.True(t, stored.SubTotal.Equal(decimal.NewFromInt(5000)))
	assert.True(t, stored.Total.Equal(decimal.NewFromInt(4000)))
	assert.True(t, stored.Savings().Equal(decimal.NewFromInt(1000)))
}

func TestCheckoutReportsPriceChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 100, 0, 5)
	f.add(t, p.ID, 1)
	f.store.UpdateProduct(p.ID, func(p *models.Product) { p.Price = decimal.NewFromInt(200) })

	v, err := f.reconciler.Checkout(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, StatusAdjusted, v.Status)
	assert.True(t, v.Repriced)
	require.NotNil(t, v.PreviousTotal)
	assert.True(t, v.PreviousTotal.Equal(decimal.NewFromInt(100)))
	assert.True(t, v.Cart.Total.Equal(decimal.NewFromInt(200)))
	assert.Empty(t, v.Adjustments)

	v, err = f.reconciler.Checkout(ctx, f.id)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, v.Status)
	assert.False(t, v.Repriced)
	assert.True(t, v.Cart.Total.Equal(decimal.NewFromInt(200)))

	order, err := f.reconciler.CreateOrder(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(200)))
}

func TestCreateOrderRejectsPriceChangeSinceCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.product(t, "P", 100, 10, 5)
	f.add(t, p.ID, 2)

	v, err := f.reconciler.Checkout(ctx, f.id)
	require.NoError(t, err)
	require.Equal(t, StatusReady, v.Status)

	f.store.UpdateProduct(p.ID, func(p *models.Product) { p.Discount = 50 })

	_, err = f.reconciler.CreateOrder(ctx, f.user.ID)
	require.ErrorIs(t, err, ErrCartAdjusted)

	var adjusted *AdjustedError
	require.True(t, errors.As(err, &adjusted))
	assert.True(t, adjusted.Validation.Repriced)
	assert.True(t, adjusted.Validation.PreviousTotal.Equal(decimal.NewFromInt(180)))
	assert.True(t, adjusted.Validation.Cart.Total.Equal(decimal.NewFromInt(100)))
	assert.Contains(t, err.Error(), "total repriced")
	assert.Zero(t, f.store.OrderCount())
	assert.Equal(t, 5, f.stock(t, p.ID))

	order, err := f.reconciler.CreateOrder(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 3, f.stock(t, p.ID))
}

func TestOrderKeepsCentsOnUndiscountedPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.store.AddProduct(models.Product{
		SKU:           "pen",
		Name:          "Pen",
		Price:         decimal.RequireFromString("19.99"),
		StockQuantity: 3,
		IsAvailable:   true,
	})
	f.add(t, p.ID, 1)

	order, err := f.reconciler.CreateOrder(ctx, f.user.ID)
	require.NoError(t, err)
	assert.True(t, order.SubTotal.Equal(decimal.RequireFromString("19.99")))
	assert.True(t, order.Total.Equal(decimal.RequireFromString("19.99")))
	assert.True(t, order.Savings().IsZero())
}
