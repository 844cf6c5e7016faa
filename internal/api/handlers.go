package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/cart"
	"github.com/safar/go-cart-store/internal/checkout"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/orders"
)

type Handler struct {
	carts      *cart.Engine
	checkout   *checkout.Reconciler
	orders     *orders.Service
	jwtSecret  []byte
	cookieName string
	cookieDays int
	logger     *zap.Logger
}

type Options struct {
	JWTSecret        string
	BuyerCookieName  string
	CookieExpiryDays int
}

func NewHandler(carts *cart.Engine, rec *checkout.Reconciler, svc *orders.Service, opts Options, logger *zap.Logger) *Handler {
	if opts.BuyerCookieName == "" {
		opts.BuyerCookieName = "BuyerId"
	}
	if opts.CookieExpiryDays <= 0 {
		opts.CookieExpiryDays = 30
	}
	return &Handler{
		carts:      carts,
		checkout:   rec,
		orders:     svc,
		jwtSecret:  []byte(opts.JWTSecret),
		cookieName: opts.BuyerCookieName,
		cookieDays: opts.CookieExpiryDays,
		logger:     logger,
	}
}

type itemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, name)
	}
	return v, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.CreateOrGet(r.Context(), identityFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "cart", c)
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.carts.AddItem(r.Context(), identityFrom(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "item added", c)
}

func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	var req itemRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.carts.UpdateItemQuantity(r.Context(), identityFrom(r.Context()), req.ProductID, req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "item updated", c)
}

func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, err := int64Param(r, "productID")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	c, err := h.carts.RemoveItem(r.Context(), identityFrom(r.Context()), productID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "item removed", c)
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), identityFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "cart cleared", c)
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	v, err := h.checkout.Checkout(r.Context(), identityFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	msg := "cart is ready for checkout"
	if v.Status == checkout.StatusAdjusted {
		msg = "cart was adjusted to current stock and prices"
	}
	respondOK(w, http.StatusOK, msg, v)
}

func (h *Handler) Associate(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	c, err := h.carts.AssociateWithUser(r.Context(), buyerIDFrom(r.Context()), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if c == nil {
		respondOK(w, http.StatusOK, "no anonymous cart to associate", nil)
		return
	}
	respondOK(w, http.StatusOK, "cart associated", c)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	order, err := h.checkout.CreateOrder(r.Context(), p.UserID)
	if err != nil {
		// stock gone between confirmation and decrement is a conflict here,
		// not a client mistake
		if errors.Is(err, database.ErrInsufficientStock) {
			h.writeErrorKind(w, r, err, errorKind{http.StatusConflict, "operation conflict"})
			return
		}
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusCreated, "order created", order)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	order, err := h.orders.GetByCode(r.Context(), chi.URLParam(r, "code"), p.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "order", order)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	q := r.URL.Query()

	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, fmt.Errorf("%w: limit must be an integer", errBadRequest))
			return
		}
		limit = n
	}

	page, err := h.orders.ListByUser(r.Context(), p.UserID, q.Get("cursor"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "orders", page)
}

func (h *Handler) AdminGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "order", order)
}

func (h *Handler) AdminUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var req statusRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	p, _ := principalFrom(r.Context())
	order, err := h.orders.UpdateStatus(r.Context(), id, req.Status, p.Subject)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	respondOK(w, http.StatusOK, "order status updated", order)
}
