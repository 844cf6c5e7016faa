package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Product is owned by the catalog. StockQuantity is the single source of
// truth for availability.
type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	Discount      int             `json:"discount"`
	StockQuantity int             `json:"stock_quantity"`
	ImageURL      string          `json:"image_url,omitempty"`
	IsAvailable   bool            `json:"is_available"`
	DeletedAt     *time.Time      `json:"deleted_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// Purchasable reports whether the product may be put into a cart.
func (p *Product) Purchasable() bool {
	return p.IsAvailable && p.DeletedAt == nil
}

type Cart struct {
	ID        int64           `json:"id"`
	BuyerID   string          `json:"buyer_id"`
	UserID    *int64          `json:"user_id,omitempty"`
	SubTotal  decimal.Decimal `json:"sub_total"`
	Total     decimal.Decimal `json:"total"`
	Items     []CartItem      `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CartItem carries the live product as read with the cart, not a snapshot.
type CartItem struct {
	ID        int64   `json:"id"`
	CartID    int64   `json:"cart_id"`
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Product   Product `json:"product"`
}

func (c *Cart) FindItem(productID int64) (int, *CartItem) {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i, &c.Items[i]
		}
	}
	return -1, nil
}

func (c *Cart) RemoveItemAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

type Order struct {
	ID               int64           `json:"id"`
	UserID           int64           `json:"user_id"`
	Code             string          `json:"code"`
	Status           OrderStatus     `json:"status"`
	SubTotal         decimal.Decimal `json:"sub_total"`
	Total            decimal.Decimal `json:"total"`
	UpdatedByAdminID *string         `json:"updated_by_admin_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int             `json:"version"`
	Items            []OrderItem     `json:"items,omitempty"`
}

// Savings is the discount granted on the order.
func (o *Order) Savings() decimal.Decimal {
	return o.SubTotal.Sub(o.Total)
}

// OrderItem is frozen at purchase time and never follows later product edits.
type OrderItem struct {
	ID                  int64           `json:"id"`
	OrderID             int64           `json:"order_id"`
	ProductID           int64           `json:"product_id"`
	Quantity            int             `json:"quantity"`
	PriceAtMoment       decimal.Decimal `json:"price_at_moment"`
	DiscountAtMoment    int             `json:"discount_at_moment"`
	TitleAtMoment       string          `json:"title_at_moment"`
	DescriptionAtMoment string          `json:"description_at_moment"`
	ImageAtMoment       string          `json:"image_at_moment"`
	CreatedAt           time.Time       `json:"created_at"`
}

type OutboxEvent struct {
	ID          int64      `json:"id"`
	AggregateID string     `json:"aggregate_id"`
	EventType   string     `json:"event_type"`
	Payload     []byte     `json:"payload"`
	CreatedAt   time.Time  `json:"created_at"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
)
