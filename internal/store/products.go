package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, sku, name, description, price, discount, stock_quantity, image_url,
		is_available, deleted_at, created_at, updated_at, version`

type CreateProductRequest struct {
	SKU         string
	Name        string
	Description string
	Price       decimal.Decimal
	Discount    int
	Stock       int
	ImageURL    string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner, product *models.Product) error {
	return row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Discount,
		&product.StockQuantity,
		&product.ImageURL,
		&product.IsAvailable,
		&product.DeletedAt,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
}

func CreateProduct(ctx context.Context, q database.Querier, req CreateProductRequest) (*models.Product, error) {
	product := &models.Product{}

	query := `
		INSERT INTO products (sku, name, description, price, discount, stock_quantity, image_url,
		                      is_available, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	err := scanProduct(q.QueryRowContext(ctx, query,
		req.SKU, req.Name, req.Description, req.Price, req.Discount, req.Stock, req.ImageURL), product)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, q database.Querier, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	err := scanProduct(q.QueryRowContext(ctx, query, id), product)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// UpdateStockOptimistic is the administrative stock edit path. It competes
// with checkout decrements through the version column.
func UpdateStockOptimistic(ctx context.Context, q database.Querier, productID int64, newStock int, version int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2 AND version = $3`,
		newStock, productID, version)
	if err != nil {
		return fmt.Errorf("update stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrOptimisticLockFailed
	}

	return nil
}

func DecrementStock(ctx context.Context, q database.Querier, productID int64, quantity int) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func SoftDeleteProduct(ctx context.Context, q database.Querier, productID int64) error {
	result, err := q.ExecContext(ctx,
		`UPDATE products SET deleted_at = NOW(), is_available = FALSE, updated_at = NOW(), version = version + 1
		 WHERE id = $1 AND deleted_at IS NULL`,
		productID)
	if err != nil {
		return fmt.Errorf("soft delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}
	return nil
}

type productRepo struct{ p *Postgres }

func (r productRepo) GetByID(ctx context.Context, id int64) (*models.Product, error) {
	return GetProduct(ctx, r.p.q, id)
}

func (r productRepo) GetRealStock(ctx context.Context, id int64) (int, error) {
	var stock int
	err := r.p.q.QueryRowContext(ctx,
		`SELECT stock_quantity FROM products WHERE id = $1`+r.p.forUpdate(), id).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get real stock: %w", err)
	}
	return stock, nil
}

func (r productRepo) DecrementStock(ctx context.Context, id int64, quantity int) error {
	return DecrementStock(ctx, r.p.q, id, quantity)
}
