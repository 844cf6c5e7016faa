package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/safar/go-cart-store/internal/models"
)

type OrderLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Discount  int             `json:"discount"`
}

type OrderCreated struct {
	OrderID   int64           `json:"order_id"`
	Code      string          `json:"code"`
	UserID    int64           `json:"user_id"`
	SubTotal  decimal.Decimal `json:"sub_total"`
	Total     decimal.Decimal `json:"total"`
	Items     []OrderLine     `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
}

type OrderStatusChanged struct {
	OrderID   int64              `json:"order_id"`
	Code      string             `json:"code"`
	From      models.OrderStatus `json:"from"`
	To        models.OrderStatus `json:"to"`
	AdminID   string             `json:"admin_id"`
	ChangedAt time.Time          `json:"changed_at"`
}

func NewOrderCreated(order *models.Order) (*models.OutboxEvent, error) {
	payload := OrderCreated{
		OrderID:   order.ID,
		Code:      order.Code,
		UserID:    order.UserID,
		SubTotal:  order.SubTotal,
		Total:     order.Total,
		Items:     make([]OrderLine, 0, len(order.Items)),
		CreatedAt: order.CreatedAt,
	}
	for _, it := range order.Items {
		payload.Items = append(payload.Items, OrderLine{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.PriceAtMoment,
			Discount:  it.DiscountAtMoment,
		})
	}
	return newEvent(models.EventOrderCreated, order.ID, payload)
}

func NewOrderStatusChanged(order *models.Order, from models.OrderStatus, adminID string) (*models.OutboxEvent, error) {
	return newEvent(models.EventOrderStatusChanged, order.ID, OrderStatusChanged{
		OrderID:   order.ID,
		Code:      order.Code,
		From:      from,
		To:        order.Status,
		AdminID:   adminID,
		ChangedAt: order.UpdatedAt,
	})
}

func newEvent(eventType string, orderID int64, payload any) (*models.OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return &models.OutboxEvent{
		AggregateID: strconv.FormatInt(orderID, 10),
		EventType:   eventType,
		Payload:     data,
	}, nil
}
