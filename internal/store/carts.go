package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
)

const cartColumns = `id, buyer_id, user_id, sub_total, total, created_at, updated_at`

type cartRepo struct{ p *Postgres }

func scanCart(row rowScanner, cart *models.Cart) error {
	var userID sql.NullInt64
	err := row.Scan(
		&cart.ID,
		&cart.BuyerID,
		&userID,
		&cart.SubTotal,
		&cart.Total,
		&cart.CreatedAt,
		&cart.UpdatedAt,
	)
	if err != nil {
		return err
	}
	cart.UserID = nil
	if userID.Valid {
		id := userID.Int64
		cart.UserID = &id
	}
	return nil
}

func (r cartRepo) Get(ctx context.Context, key models.CartKey) (*models.Cart, error) {
	var (
		query string
		arg   any
	)
	if key.IsUser() {
		query = `SELECT ` + cartColumns + ` FROM carts WHERE user_id = $1`
		arg = key.UserID()
	} else {
		query = `SELECT ` + cartColumns + ` FROM carts WHERE buyer_id = $1 AND user_id IS NULL`
		arg = key.BuyerID()
	}

	cart := &models.Cart{}
	err := scanCart(r.p.q.QueryRowContext(ctx, query+r.p.forUpdate(), arg), cart)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCartNotFound
		}
		return nil, fmt.Errorf("get cart %s: %w", key, err)
	}

	if err := r.loadItems(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (r cartRepo) loadItems(ctx context.Context, cart *models.Cart) error {
	query := `
		SELECT ci.id, ci.cart_id, ci.quantity,
		       p.id, p.sku, p.name, p.description, p.price, p.discount, p.stock_quantity, p.image_url,
		       p.is_available, p.deleted_at, p.created_at, p.updated_at, p.version
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.id`

	rows, err := r.p.q.QueryContext(ctx, query, cart.ID)
	if err != nil {
		return fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	cart.Items = cart.Items[:0]
	for rows.Next() {
		var item models.CartItem
		p := &item.Product
		err := rows.Scan(
			&item.ID,
			&item.CartID,
			&item.Quantity,
			&p.ID,
			&p.SKU,
			&p.Name,
			&p.Description,
			&p.Price,
			&p.Discount,
			&p.StockQuantity,
			&p.ImageURL,
			&p.IsAvailable,
			&p.DeletedAt,
			&p.CreatedAt,
			&p.UpdatedAt,
			&p.Version,
		)
		if err != nil {
			return fmt.Errorf("scan cart item: %w", err)
		}
		item.ProductID = p.ID
		cart.Items = append(cart.Items, item)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

func (r cartRepo) Resolve(ctx context.Context, id models.Identity) (*models.Cart, error) {
	if id.Authenticated() {
		cart, err := r.Get(ctx, models.UserKey(id.UserID))
		switch {
		case err == nil:
			if id.BuyerID != "" && cart.BuyerID != id.BuyerID {
				if err := r.setIdentity(ctx, cart.ID, id.BuyerID, cart.UserID); err != nil {
					return nil, err
				}
				cart.BuyerID = id.BuyerID
			}
			return cart, nil
		case !errors.Is(err, database.ErrCartNotFound):
			return nil, err
		}
	}

	if id.BuyerID == "" {
		return nil, database.ErrCartNotFound
	}

	cart, err := r.Get(ctx, models.AnonymousKey(id.BuyerID))
	if err != nil {
		return nil, err
	}

	if id.Authenticated() {
		userID := id.UserID
		if err := r.setIdentity(ctx, cart.ID, cart.BuyerID, &userID); err != nil {
			return nil, err
		}
		cart.UserID = &userID
	}
	return cart, nil
}

func (r cartRepo) setIdentity(ctx context.Context, cartID int64, buyerID string, userID *int64) error {
	result, err := r.p.q.ExecContext(ctx,
		`UPDATE carts SET buyer_id = $2, user_id = $3, updated_at = NOW() WHERE id = $1`,
		cartID, buyerID, userID)
	if err != nil {
		return fmt.Errorf("rebind cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCartNotFound
	}
	return nil
}

// Create inserts an empty cart for the identity. If a concurrent request
// created one first, that cart is returned instead.
func (r cartRepo) Create(ctx context.Context, id models.Identity) (*models.Cart, error) {
	var userID *int64
	if id.Authenticated() {
		uid := id.UserID
		userID = &uid
	}

	cart := &models.Cart{}
	err := scanCart(r.p.q.QueryRowContext(ctx,
		`INSERT INTO carts (buyer_id, user_id, sub_total, total, created_at, updated_at)
		 VALUES ($1, $2, 0, 0, NOW(), NOW())
		 ON CONFLICT DO NOTHING
		 RETURNING `+cartColumns,
		id.BuyerID, userID), cart)
	if errors.Is(err, sql.ErrNoRows) {
		return r.Get(ctx, id.Key())
	}
	if err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}

	cart.Items = []models.CartItem{}
	return cart, nil
}

func (r cartRepo) Update(ctx context.Context, cart *models.Cart) error {
	result, err := r.p.q.ExecContext(ctx,
		`UPDATE carts
		 SET buyer_id = $2, user_id = $3, sub_total = $4, total = $5, updated_at = NOW()
		 WHERE id = $1`,
		cart.ID, cart.BuyerID, cart.UserID, cart.SubTotal, cart.Total)
	if err != nil {
		return fmt.Errorf("update cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCartNotFound
	}

	productIDs := make([]int64, 0, len(cart.Items))
	for _, item := range cart.Items {
		productIDs = append(productIDs, item.ProductID)
	}

	_, err = r.p.q.ExecContext(ctx,
		`DELETE FROM cart_items WHERE cart_id = $1 AND NOT (product_id = ANY($2))`,
		cart.ID, pq.Array(productIDs))
	if err != nil {
		return fmt.Errorf("prune cart items: %w", err)
	}

	for i := range cart.Items {
		item := &cart.Items[i]
		err := r.p.q.QueryRowContext(ctx,
			`INSERT INTO cart_items (cart_id, product_id, quantity)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity
			 RETURNING id`,
			cart.ID, item.ProductID, item.Quantity).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("save cart item %d: %w", item.ProductID, err)
		}
		item.CartID = cart.ID
	}

	return nil
}

func (r cartRepo) Delete(ctx context.Context, cartID int64) error {
	result, err := r.p.q.ExecContext(ctx, `DELETE FROM carts WHERE id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrCartNotFound
	}
	return nil
}
