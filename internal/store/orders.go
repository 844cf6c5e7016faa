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

const orderColumns = `id, user_id, code, status, sub_total, total, updated_by_admin_id, created_at, updated_at, version`

type orderRepo struct{ p *Postgres }

func scanOrder(row rowScanner, order *models.Order) error {
	var adminID sql.NullString
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.Code,
		&order.Status,
		&order.SubTotal,
		&order.Total,
		&adminID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return err
	}
	order.UpdatedByAdminID = nil
	if adminID.Valid {
		order.UpdatedByAdminID = &adminID.String
	}
	return nil
}

func (r orderRepo) CodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.p.q.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE code = $1)", code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check order code: %w", err)
	}
	return exists, nil
}

func (r orderRepo) Create(ctx context.Context, order *models.Order) (bool, error) {
	err := r.p.q.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, code, status, sub_total, total, created_at, updated_at, version)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW(), 1)
		 ON CONFLICT ON CONSTRAINT orders_code_key DO NOTHING
		 RETURNING id, created_at, updated_at, version`,
		order.UserID, order.Code, order.Status, order.SubTotal, order.Total).Scan(
		&order.ID,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := r.p.q.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, price_at_moment, discount_at_moment,
			                          title_at_moment, description_at_moment, image_at_moment, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
			 RETURNING id, created_at`,
			order.ID, item.ProductID, item.Quantity, item.PriceAtMoment, item.DiscountAtMoment,
			item.TitleAtMoment, item.DescriptionAtMoment, item.ImageAtMoment).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("create order item: %w", err)
		}
	}

	return true, nil
}

func (r orderRepo) GetByCode(ctx context.Context, code string) (*models.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE code = $1`, code)
}

func (r orderRepo) GetByID(ctx context.Context, id int64) (*models.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r orderRepo) getOne(ctx context.Context, query string, arg any) (*models.Order, error) {
	order := &models.Order{}

	err := scanOrder(r.p.q.QueryRowContext(ctx, query+r.p.forUpdate(), arg), order)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := r.loadItems(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items[order.ID]

	return order, nil
}

func (r orderRepo) loadItems(ctx context.Context, orderIDs ...int64) (map[int64][]models.OrderItem, error) {
	itemsQuery := `
		SELECT id, order_id, product_id, quantity, price_at_moment, discount_at_moment,
		       title_at_moment, description_at_moment, image_at_moment, created_at
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, id`

	rows, err := r.p.q.QueryContext(ctx, itemsQuery, pq.Array(orderIDs))
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]models.OrderItem, len(orderIDs))
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.PriceAtMoment,
			&item.DiscountAtMoment,
			&item.TitleAtMoment,
			&item.DescriptionAtMoment,
			&item.ImageAtMoment,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[item.OrderID] = append(items[item.OrderID], item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func (r orderRepo) ListByUser(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := r.p.q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	page := BuildCursorPage(orders, limit)
	if len(orders) > 0 {
		ids := make([]int64, len(orders))
		for i := range orders {
			ids[i] = orders[i].ID
		}
		items, err := r.loadItems(ctx, ids...)
		if err != nil {
			return nil, err
		}
		for i := range page.Items {
			page.Items[i].Items = items[page.Items[i].ID]
		}
	}

	return page, nil
}

func (r orderRepo) UpdateStatus(ctx context.Context, id int64, status models.OrderStatus, adminID string) error {
	result, err := r.p.q.ExecContext(ctx,
		`UPDATE orders
		 SET status = $2, updated_by_admin_id = $3, updated_at = NOW(), version = version + 1
		 WHERE id = $1`,
		id, status, adminID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}
