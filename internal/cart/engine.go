package cart

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/pricing"
	"github.com/safar/go-cart-store/internal/store"
)

var ErrInvalidQuantity = errors.New("quantity must be at least 1")

// Engine mutates carts and keeps their totals in step with the items.
// Stock is only read here; decrementing it is left to checkout.
type Engine struct {
	store  store.Store
	logger *zap.Logger
}

func NewEngine(s store.Store, logger *zap.Logger) *Engine {
	return &Engine{store: s, logger: logger}
}

// inTx runs fn in a read-committed transaction. A unique violation on one of
// the cart identity indexes means a concurrent request created or bound the
// same cart first; the second pass resolves to that cart.
func (e *Engine) inTx(ctx context.Context, fn func(store.Store) error) error {
	err := e.store.WithTx(ctx, database.DefaultTxOptions(), fn)
	if database.IsUniqueViolation(err, "carts_user_id_key") ||
		database.IsUniqueViolation(err, "carts_anonymous_buyer_id_key") {
		e.logger.Debug("cart identity race, retrying", zap.Error(err))
		err = e.store.WithTx(ctx, database.DefaultTxOptions(), fn)
	}
	return err
}

func resolveOrCreate(ctx context.Context, tx store.Store, id models.Identity) (*models.Cart, error) {
	cart, err := tx.Carts().Resolve(ctx, id)
	if errors.Is(err, database.ErrCartNotFound) {
		return tx.Carts().Create(ctx, id)
	}
	return cart, err
}

func purchasableProduct(ctx context.Context, tx store.Store, productID int64) (*models.Product, error) {
	product, err := tx.Products().GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.Purchasable() {
		return nil, database.ErrProductNotFound
	}
	return product, nil
}

func save(ctx context.Context, tx store.Store, cart *models.Cart) error {
	pricing.Recalculate(cart)
	return tx.Carts().Update(ctx, cart)
}

// AddItem adds quantity units of the product, merging into an existing line.
// The cumulative line quantity is checked against stock.
func (e *Engine) AddItem(ctx context.Context, id models.Identity, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	var result *models.Cart
	err := e.inTx(ctx, func(tx store.Store) error {
		product, err := purchasableProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		cart, err := resolveOrCreate(ctx, tx, id)
		if err != nil {
			return err
		}

		want := quantity
		_, item := cart.FindItem(productID)
		if item != nil {
			want += item.Quantity
		}
		if product.StockQuantity < want {
			e.logger.Info("insufficient stock for cart item",
				zap.Int64("product_id", productID),
				zap.Int("requested", want),
				zap.Int("stock", product.StockQuantity))
			return database.ErrInsufficientStock
		}

		if item != nil {
			item.Quantity = want
			item.Product = *product
		} else {
			cart.Items = append(cart.Items, models.CartItem{
				CartID:    cart.ID,
				ProductID: product.ID,
				Quantity:  quantity,
				Product:   *product,
			})
		}

		if err := save(ctx, tx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add item: %w", err)
	}

	e.logger.Info("cart item added",
		zap.Int64("cart_id", result.ID),
		zap.Int64("product_id", productID),
		zap.Int("quantity", quantity))
	return result, nil
}

func (e *Engine) RemoveItem(ctx context.Context, id models.Identity, productID int64) (*models.Cart, error) {
	var result *models.Cart
	err := e.inTx(ctx, func(tx store.Store) error {
		cart, err := tx.Carts().Resolve(ctx, id)
		if err != nil {
			return err
		}

		i, item := cart.FindItem(productID)
		if item == nil {
			return database.ErrCartItemNotFound
		}
		cart.RemoveItemAt(i)

		if err := save(ctx, tx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("remove item: %w", err)
	}
	return result, nil
}

// UpdateItemQuantity overwrites the line quantity. Zero removes the line.
func (e *Engine) UpdateItemQuantity(ctx context.Context, id models.Identity, productID int64, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}

	var result *models.Cart
	err := e.inTx(ctx, func(tx store.Store) error {
		cart, err := tx.Carts().Resolve(ctx, id)
		if err != nil {
			return err
		}

		product, err := purchasableProduct(ctx, tx, productID)
		if err != nil {
			return err
		}

		i, item := cart.FindItem(productID)
		if item == nil {
			return database.ErrCartItemNotFound
		}

		if quantity == 0 {
			cart.RemoveItemAt(i)
		} else {
			if product.StockQuantity < quantity {
				return database.ErrInsufficientStock
			}
			item.Quantity = quantity
			item.Product = *product
		}

		if err := save(ctx, tx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update item quantity: %w", err)
	}
	return result, nil
}

// Clear empties the cart but keeps the record for reuse.
func (e *Engine) Clear(ctx context.Context, id models.Identity) (*models.Cart, error) {
	var result *models.Cart
	err := e.inTx(ctx, func(tx store.Store) error {
		cart, err := tx.Carts().Resolve(ctx, id)
		if err != nil {
			return err
		}

		cart.Items = cart.Items[:0]
		if err := save(ctx, tx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("clear cart: %w", err)
	}

	e.logger.Info("cart cleared", zap.Int64("cart_id", result.ID))
	return result, nil
}

// CreateOrGet returns the caller's cart, creating an empty one if needed.
// Totals are refreshed from the current product prices.
func (e *Engine) CreateOrGet(ctx context.Context, id models.Identity) (*models.Cart, error) {
	var result *models.Cart
	err := e.inTx(ctx, func(tx store.Store) error {
		cart, err := resolveOrCreate(ctx, tx, id)
		if err != nil {
			return err
		}

		// prices may have moved since the cart was last saved
		subTotal, total := cart.SubTotal, cart.Total
		pricing.Recalculate(cart)
		if !cart.SubTotal.Equal(subTotal) || !cart.Total.Equal(total) {
			if err := tx.Carts().Update(ctx, cart); err != nil {
				return err
			}
		}
		result = cart
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return result, nil
}
