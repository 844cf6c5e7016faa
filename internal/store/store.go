package store

import (
	"context"
	"database/sql"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
}

type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*models.Product, error)
	// GetRealStock returns 0 for a product that no longer exists.
	GetRealStock(ctx context.Context, id int64) (int, error)
	// DecrementStock fails with ErrInsufficientStock instead of going below zero.
	DecrementStock(ctx context.Context, id int64, quantity int) error
}

type CartRepository interface {
	// Resolve finds the caller's cart: the user cart first (refreshing its
	// buyer token), then the anonymous cart of the buyer token (binding it to
	// the user when authenticated). ErrCartNotFound when neither exists.
	Resolve(ctx context.Context, id models.Identity) (*models.Cart, error)
	Get(ctx context.Context, key models.CartKey) (*models.Cart, error)
	Create(ctx context.Context, id models.Identity) (*models.Cart, error)
	// Update persists identity, totals and the full item list of the cart.
	Update(ctx context.Context, cart *models.Cart) error
	Delete(ctx context.Context, cartID int64) error
}

type OrderRepository interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	// Create returns false without error when the code is already taken.
	Create(ctx context.Context, order *models.Order) (bool, error)
	GetByCode(ctx context.Context, code string) (*models.Order, error)
	GetByID(ctx context.Context, id int64) (*models.Order, error)
	ListByUser(ctx context.Context, userID int64, cursor string, limit int) (*CursorPage, error)
	UpdateStatus(ctx context.Context, id int64, status models.OrderStatus, adminID string) error
}

type OutboxRepository interface {
	Append(ctx context.Context, event *models.OutboxEvent) error
	// ClaimUnpublished must run inside WithTx; claimed rows stay locked until commit.
	ClaimUnpublished(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
}

type Store interface {
	Users() UserRepository
	Products() ProductRepository
	Carts() CartRepository
	Orders() OrderRepository
	Outbox() OutboxRepository
	// WithTx runs fn against a store bound to one transaction. Nested calls
	// join the outer transaction.
	WithTx(ctx context.Context, opts database.TxOptions, fn func(Store) error) error
}

type Postgres struct {
	db *sql.DB
	q  database.Querier
	tx bool
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db, q: db}
}

func (p *Postgres) Users() UserRepository       { return userRepo{p} }
func (p *Postgres) Products() ProductRepository { return productRepo{p} }
func (p *Postgres) Carts() CartRepository       { return cartRepo{p} }
func (p *Postgres) Orders() OrderRepository     { return orderRepo{p} }
func (p *Postgres) Outbox() OutboxRepository    { return outboxRepo{p} }

func (p *Postgres) WithTx(ctx context.Context, opts database.TxOptions, fn func(Store) error) error {
	if p.tx {
		return fn(p)
	}
	return database.WithRetry(ctx, p.db, opts, func(tx *sql.Tx) error {
		return fn(&Postgres{db: p.db, q: tx, tx: true})
	})
}

// forUpdate locks selected rows when running inside a transaction.
func (p *Postgres) forUpdate() string {
	if p.tx {
		return " FOR UPDATE"
	}
	return ""
}

var _ Store = (*Postgres)(nil)
