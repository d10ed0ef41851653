package service

import (
	"context"
	"fmt"
	"math"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/port"
)

// Validator prices a normalized cart from the catalog's current prices and
// checks each line against current stock.
type Validator struct {
	catalog port.ProductCatalog
}

func NewValidator(catalog port.ProductCatalog) *Validator {
	return &Validator{catalog: catalog}
}

// Price fails with a StockConflictError naming every unavailable product, not
// just the first one found.
func (v *Validator) Price(ctx context.Context, lines []domain.NormalizedLine) (domain.PricedCart, error) {
	products, err := v.catalog.LookupActiveProducts(ctx, domain.ProductIDs(lines))
	if err != nil {
		return domain.PricedCart{}, domain.NewTransactionFailure("lookup products", err)
	}

	byID := make(map[int64]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	cart := domain.PricedCart{Lines: make([]domain.PricedLine, 0, len(lines))}
	var unavailable []int64

	for _, line := range lines {
		p, ok := byID[line.ProductID]
		if !ok || !p.IsActive || p.Stock < line.Quantity {
			unavailable = append(unavailable, line.ProductID)
			continue
		}

		qty := int64(line.Quantity)
		if p.PriceCents > 0 && qty > (math.MaxInt64-cart.TotalCents)/p.PriceCents {
			return domain.PricedCart{}, domain.NewInvalidInput(fmt.Sprintf("order total for product %d is too large", line.ProductID))
		}

		subtotal := p.PriceCents * qty
		cart.Lines = append(cart.Lines, domain.PricedLine{
			NormalizedLine: line,
			UnitPriceCents: p.PriceCents,
			SubtotalCents:  subtotal,
		})
		cart.TotalCents += subtotal
	}

	if len(unavailable) > 0 {
		return domain.PricedCart{}, domain.NewStockConflict(unavailable)
	}

	return cart, nil
}
