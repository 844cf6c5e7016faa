package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/cart"
	"github.com/safar/go-cart-store/internal/checkout"
	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/orders"
	"github.com/safar/go-cart-store/internal/store"
)

var errBadRequest = errors.New("bad request")

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
	TraceID string `json:"trace_id"`
	Data    any    `json:"data,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondOK(w http.ResponseWriter, status int, message string, data any) {
	respondJSON(w, status, envelope{Message: message, Data: data})
}

type errorKind struct {
	status int
	title  string
}

// classify maps an error to its HTTP status. Order matters: the first match
// wins.
func classify(err error) errorKind {
	switch {
	case errors.Is(err, database.ErrCartNotFound),
		errors.Is(err, database.ErrCartItemNotFound),
		errors.Is(err, database.ErrProductNotFound),
		errors.Is(err, database.ErrOrderNotFound),
		errors.Is(err, database.ErrUserNotFound):
		return errorKind{http.StatusNotFound, "resource not found"}
	case errors.Is(err, database.ErrInsufficientStock),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, orders.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidCursor),
		errors.Is(err, errBadRequest):
		return errorKind{http.StatusBadRequest, "invalid request"}
	case errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrCartAdjusted),
		errors.Is(err, orders.ErrInvalidTransition):
		return errorKind{http.StatusConflict, "operation conflict"}
	case errors.Is(err, checkout.ErrOrderCodeExhausted),
		database.IsRetryable(err):
		return errorKind{http.StatusServiceUnavailable, "try again later"}
	case errors.Is(err, context.DeadlineExceeded):
		return errorKind{http.StatusGatewayTimeout, "request timed out"}
	default:
		return errorKind{http.StatusInternalServerError, "internal server error"}
	}
}

// writeError sends the uniform error body with a trace id that is also
// logged, so a client report can be matched to the server log.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	h.writeErrorKind(w, r, err, classify(err))
}

func (h *Handler) writeErrorKind(w http.ResponseWriter, r *http.Request, err error, kind errorKind) {
	traceID := uuid.NewString()
	w.Header().Set("Trace-Id", traceID)

	body := errorBody{Error: kind.title, Details: err.Error(), TraceID: traceID}
	if kind.status >= http.StatusInternalServerError {
		body.Details = kind.title
		h.logger.Error("request failed",
			zap.String("trace_id", traceID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	} else {
		h.logger.Info("request rejected",
			zap.String("trace_id", traceID),
			zap.Int("status", kind.status),
			zap.Error(err))
	}

	var adjusted *checkout.AdjustedError
	if errors.As(err, &adjusted) {
		body.Data = adjusted.Validation
	}

	respondJSON(w, kind.status, body)
}
