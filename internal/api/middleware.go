package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/models"
)

type ctxKey int

const (
	buyerIDKey ctxKey = iota
	principalKey
)

const roleAdmin = "admin"

// Principal is the caller as established by a verified bearer token.
type Principal struct {
	UserID  int64
	Subject string
	Role    string
}

func (p Principal) IsAdmin() bool { return p.Role == roleAdmin }

type claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

var errUnauthorized = errors.New("missing or invalid bearer token")

func buyerIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(buyerIDKey).(string)
	return id
}

func principalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

func identityFrom(ctx context.Context) models.Identity {
	id := models.Identity{BuyerID: buyerIDFrom(ctx)}
	if p, ok := principalFrom(ctx); ok {
		id.UserID = p.UserID
	}
	return id
}

// BuyerCookie makes sure every request carries an anonymous buyer token,
// issuing a new one when the cookie is missing.
func BuyerCookie(name string, expiryDays int, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buyerID := ""
			if c, err := r.Cookie(name); err == nil {
				buyerID = c.Value
			}

			if buyerID == "" {
				id, err := uuid.NewV7()
				if err != nil {
					id = uuid.New()
				}
				buyerID = id.String()
				http.SetCookie(w, &http.Cookie{
					Name:     name,
					Value:    buyerID,
					Path:     "/",
					Expires:  time.Now().UTC().AddDate(0, 0, expiryDays),
					HttpOnly: true,
					Secure:   true,
					SameSite: http.SameSiteLaxMode,
				})
				logger.Debug("issued buyer cookie", zap.String("buyer_id", buyerID))
			}

			ctx := context.WithValue(r.Context(), buyerIDKey, buyerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticate verifies an optional HS256 bearer token. Requests without a
// token pass through anonymously; a bad token is rejected.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		p, err := h.parseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			h.writeErrorKind(w, r, fmt.Errorf("%w: %v", errUnauthorized, err),
				errorKind{http.StatusUnauthorized, "unauthorized"})
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) parseToken(raw string) (Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return h.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Principal{}, err
	}

	userID, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Principal{}, fmt.Errorf("subject %q is not a user id", c.Subject)
	}
	return Principal{UserID: userID, Subject: c.Subject, Role: c.Role}, nil
}

func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := principalFrom(r.Context()); !ok {
			h.writeErrorKind(w, r, errUnauthorized, errorKind{http.StatusUnauthorized, "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := principalFrom(r.Context())
		if !ok {
			h.writeErrorKind(w, r, errUnauthorized, errorKind{http.StatusUnauthorized, "unauthorized"})
			return
		}
		if !p.IsAdmin() {
			h.writeErrorKind(w, r, errors.New("admin role required"), errorKind{http.StatusForbidden, "forbidden"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func AccessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
