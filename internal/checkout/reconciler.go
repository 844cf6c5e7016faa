package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/events"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/pricing"
	"github.com/safar/go-cart-store/internal/store"
)

var (
	ErrEmptyCart    = errors.New("cart is empty")
	ErrCartAdjusted = errors.New("cart was adjusted to current stock and prices")
)

type Status string

const (
	StatusReady    Status = "ready"
	StatusAdjusted Status = "adjusted"
)

// Adjustment records one line changed to match live stock. Available is 0
// when the line was dropped.
type Adjustment struct {
	ProductID int64 `json:"product_id"`
	Requested int   `json:"requested"`
	Available int   `json:"available"`
	Removed   bool  `json:"removed"`
}

// Validation is the outcome of a reconciliation pass. Repriced is set when
// the saved totals no longer matched the current product prices; PreviousTotal
// then holds the total the buyer last saw.
type Validation struct {
	Status        Status           `json:"status"`
	Cart          *models.Cart     `json:"cart"`
	Adjustments   []Adjustment     `json:"adjustments,omitempty"`
	Repriced      bool             `json:"repriced,omitempty"`
	PreviousTotal *decimal.Decimal `json:"previous_total,omitempty"`
}

// AdjustedError is returned by CreateOrder when the confirmation pass found
// the cart out of step with stock. The adjusted cart has been saved.
type AdjustedError struct {
	Validation *Validation
}

func (e *AdjustedError) Error() string {
	if e.Validation.Repriced {
		return fmt.Sprintf("%v: %d line(s) changed, total repriced", ErrCartAdjusted, len(e.Validation.Adjustments))
	}
	return fmt.Sprintf("%v: %d line(s) changed", ErrCartAdjusted, len(e.Validation.Adjustments))
}

func (e *AdjustedError) Unwrap() error { return ErrCartAdjusted }

type Options struct {
	MaxCodeAttempts int
	DefaultImageURL string
	Now             func() time.Time
}

type Reconciler struct {
	store        store.Store
	codes        *CodeGenerator
	maxAttempts  int
	defaultImage string
	logger       *zap.Logger
}

func NewReconciler(s store.Store, opts Options, logger *zap.Logger) *Reconciler {
	if opts.MaxCodeAttempts <= 0 {
		opts.MaxCodeAttempts = 10
	}
	return &Reconciler{
		store:        s,
		codes:        NewCodeGenerator(opts.Now),
		maxAttempts:  opts.MaxCodeAttempts,
		defaultImage: opts.DefaultImageURL,
		logger:       logger,
	}
}

type outcome struct {
	adjustments   []Adjustment
	repriced      bool
	previousTotal decimal.Decimal
}

func (o outcome) changed() bool { return o.repriced || len(o.adjustments) > 0 }

// validation builds the adjusted result. The cart must already be saved.
func (o outcome) validation(cart *models.Cart) *Validation {
	v := &Validation{Status: StatusAdjusted, Cart: cart, Adjustments: o.adjustments, Repriced: o.repriced}
	if o.repriced {
		prev := o.previousTotal
		v.PreviousTotal = &prev
	}
	return v
}

// reconcile re-reads stock for every line and clamps or drops the lines that
// no longer fit. Totals are always recomputed from the current prices; a cart
// whose saved totals disagree with those prices is reported as repriced.
func reconcile(ctx context.Context, tx store.Store, cart *models.Cart) (outcome, error) {
	live := pricing.Calculate(pricing.CartLines(cart.Items))
	out := outcome{
		repriced:      !live.SubTotal.Equal(cart.SubTotal) || !live.Total.Equal(cart.Total),
		previousTotal: cart.Total,
	}
	kept := cart.Items[:0]

	for _, item := range cart.Items {
		stock, err := tx.Products().GetRealStock(ctx, item.ProductID)
		if err != nil {
			return outcome{}, fmt.Errorf("read stock of product %d: %w", item.ProductID, err)
		}
		if !item.Product.Purchasable() {
			stock = 0
		}

		switch {
		case stock <= 0:
			out.adjustments = append(out.adjustments, Adjustment{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Removed:   true,
			})
			continue
		case stock < item.Quantity:
			out.adjustments = append(out.adjustments, Adjustment{
				ProductID: item.ProductID,
				Requested: item.Quantity,
				Available: stock,
			})
			item.Quantity = stock
		}
		kept = append(kept, item)
	}

	cart.Items = kept
	pricing.Recalculate(cart)
	return out, nil
}

func (r *Reconciler) logOutcome(cart *models.Cart, out outcome) {
	if out.repriced {
		r.logger.Info("cart repriced",
			zap.Int64("cart_id", cart.ID),
			zap.String("previous_total", out.previousTotal.String()),
			zap.String("total", cart.Total.String()))
	}
	for _, a := range out.adjustments {
		r.logger.Info("cart line adjusted to stock",
			zap.Int64("cart_id", cart.ID),
			zap.Int64("product_id", a.ProductID),
			zap.Int("requested", a.Requested),
			zap.Int("available", a.Available),
			zap.Bool("removed", a.Removed))
	}
}

// Checkout is the validation pass. It never creates an order: it either
// reports the cart ready or saves and returns the adjusted cart.
func (r *Reconciler) Checkout(ctx context.Context, id models.Identity) (*Validation, error) {
	var result *Validation
	err := r.store.WithTx(ctx, database.SerializableTxOptions(), func(tx store.Store) error {
		cart, err := tx.Carts().Resolve(ctx, id)
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return ErrEmptyCart
		}

		out, err := reconcile(ctx, tx, cart)
		if err != nil {
			return err
		}

		if !out.changed() {
			result = &Validation{Status: StatusReady, Cart: cart}
			return nil
		}

		if err := tx.Carts().Update(ctx, cart); err != nil {
			return err
		}
		result = out.validation(cart)
		r.logOutcome(cart, out)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: %w", err)
	}
	return result, nil
}

// CreateOrder converts the user's cart into an order. Validation runs again
// inside the same transaction; if it changes the cart, the adjusted cart is
// committed and an *AdjustedError is returned instead of an order. Stock is
// decremented conditionally, and a late shortfall rolls everything back.
func (r *Reconciler) CreateOrder(ctx context.Context, userID int64) (*models.Order, error) {
	var (
		order    *models.Order
		adjusted *AdjustedError
	)

	err := r.store.WithTx(ctx, database.SerializableTxOptions(), func(tx store.Store) error {
		order, adjusted = nil, nil

		if _, err := tx.Users().GetByID(ctx, userID); err != nil {
			return err
		}

		cart, err := tx.Carts().Get(ctx, models.UserKey(userID))
		if err != nil {
			return err
		}
		if cart.IsEmpty() {
			return ErrEmptyCart
		}

		out, err := reconcile(ctx, tx, cart)
		if err != nil {
			return err
		}
		if out.changed() {
			if err := tx.Carts().Update(ctx, cart); err != nil {
				return err
			}
			r.logOutcome(cart, out)
			adjusted = &AdjustedError{Validation: out.validation(cart)}
			return nil
		}

		order = r.snapshot(userID, cart)
		if err := insertWithUniqueCode(ctx, tx.Orders(), r.codes, r.maxAttempts, order); err != nil {
			return err
		}

		for _, item := range cart.Items {
			if err := tx.Products().DecrementStock(ctx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("decrement stock of product %d: %w", item.ProductID, err)
			}
		}

		event, err := events.NewOrderCreated(order)
		if err != nil {
			return err
		}
		if err := tx.Outbox().Append(ctx, event); err != nil {
			return err
		}

		cart.Items = cart.Items[:0]
		pricing.Recalculate(cart)
		return tx.Carts().Update(ctx, cart)
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	if adjusted != nil {
		return nil, adjusted
	}

	r.logger.Info("order created",
		zap.Int64("order_id", order.ID),
		zap.String("code", order.Code),
		zap.Int64("user_id", userID),
		zap.String("total", order.Total.String()))
	return order, nil
}

func (r *Reconciler) snapshot(userID int64, cart *models.Cart) *models.Order {
	totals := pricing.Calculate(pricing.CartLines(cart.Items))
	order := &models.Order{
		UserID:   userID,
		Status:   models.OrderStatusPending,
		SubTotal: totals.SubTotal,
		Total:    totals.Total,
		Items:    make([]models.OrderItem, 0, len(cart.Items)),
	}
	for _, item := range cart.Items {
		order.Items = append(order.Items, SnapshotItem(item, r.defaultImage))
	}
	return order
}

// SnapshotItem freezes the product as it is at purchase time.
func SnapshotItem(item models.CartItem, defaultImage string) models.OrderItem {
	image := item.Product.ImageURL
	if image == "" {
		image = defaultImage
	}
	return models.OrderItem{
		ProductID:           item.ProductID,
		Quantity:            item.Quantity,
		PriceAtMoment:       item.Product.Price,
		DiscountAtMoment:    item.Product.Discount,
		TitleAtMoment:       item.Product.Name,
		DescriptionAtMoment: item.Product.Description,
		ImageAtMoment:       image,
	}
}
