package cart

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/safar/go-cart-store/internal/database"
	"github.com/safar/go-cart-store/internal/models"
	"github.com/safar/go-cart-store/internal/store"
)

// AssociateWithUser hands the anonymous cart of buyerID over to the user.
// If the user already owns a cart the anonymous lines are folded into it and
// the anonymous cart is deleted, so a second call finds nothing to merge.
// Merged quantities are not clamped to stock; checkout reconciles them.
func (e *Engine) AssociateWithUser(ctx context.Context, buyerID string, userID int64) (*models.Cart, error) {
	var result *models.Cart
	err := e.inTx(ctx, func(tx store.Store) error {
		anon, err := tx.Carts().Get(ctx, models.AnonymousKey(buyerID))
		if errors.Is(err, database.ErrCartNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		owned, err := tx.Carts().Get(ctx, models.UserKey(userID))
		if errors.Is(err, database.ErrCartNotFound) {
			uid := userID
			anon.UserID = &uid
			if err := tx.Carts().Update(ctx, anon); err != nil {
				return err
			}
			e.logger.Info("anonymous cart bound to user",
				zap.Int64("cart_id", anon.ID),
				zap.Int64("user_id", userID))
			result = anon
			return nil
		}
		if err != nil {
			return err
		}

		Merge(owned, anon)
		if err := save(ctx, tx, owned); err != nil {
			return err
		}
		if err := tx.Carts().Delete(ctx, anon.ID); err != nil {
			return err
		}

		e.logger.Info("carts merged",
			zap.Int64("anonymous_cart_id", anon.ID),
			zap.Int64("user_cart_id", owned.ID))
		result = owned
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("associate cart: %w", err)
	}
	return result, nil
}

// Merge folds the lines of src into dst: quantities are summed for products
// present in both, other lines move over. Totals are left to the caller.
func Merge(dst, src *models.Cart) {
	for _, line := range src.Items {
		if _, existing := dst.FindItem(line.ProductID); existing != nil {
			existing.Quantity += line.Quantity
			continue
		}
		line.ID = 0
		line.CartID = dst.ID
		dst.Items = append(dst.Items, line)
	}
}
