package checkout

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/safar/go-cart-store/internal/models"
)

var ErrOrderCodeExhausted = errors.New("could not allocate a unique order code")

// widenAfter is the number of 3-digit attempts before switching to a 6-digit
// suffix.
const widenAfter = 3

// CodeGenerator builds codes of the form ORD-<yyMMddHHmmss>-<suffix> from the
// UTC clock.
type CodeGenerator struct {
	now func() time.Time
}

func NewCodeGenerator(now func() time.Time) *CodeGenerator {
	if now == nil {
		now = time.Now
	}
	return &CodeGenerator{now: now}
}

func (g *CodeGenerator) Next(attempt int) string {
	stamp := g.now().UTC().Format("060102150405")
	if attempt < widenAfter {
		return fmt.Sprintf("ORD-%s-%03d", stamp, 100+rand.Intn(900))
	}
	return fmt.Sprintf("ORD-%s-%06d", stamp, 100000+rand.Intn(900000))
}

type codeStore interface {
	CodeExists(ctx context.Context, code string) (bool, error)
	Create(ctx context.Context, order *models.Order) (bool, error)
}

// insertWithUniqueCode assigns a fresh code and inserts the order. The
// existence check avoids most doomed inserts; the insert itself is the
// authority and reports a lost race as false.
func insertWithUniqueCode(ctx context.Context, orders codeStore, gen *CodeGenerator, maxAttempts int, order *models.Order) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		code := gen.Next(attempt)

		exists, err := orders.CodeExists(ctx, code)
		if err != nil {
			return err
		}
		if exists {
			continue
		}

		order.Code = code
		created, err := orders.Create(ctx, order)
		if err != nil {
			return err
		}
		if created {
			return nil
		}
	}

	order.Code = ""
	return ErrOrderCodeExhausted
}
