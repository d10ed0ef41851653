package domain

import (
	"fmt"
	"math"
)

// CartLineRequest is one line of a checkout request as submitted by the client.
// The same product may appear on several lines.
type CartLineRequest struct {
	ProductID int64
	Quantity  int
}

// NormalizedLine is unique by ProductID within a normalized cart.
type NormalizedLine struct {
	ProductID int64
	Quantity  int
}

type PricedLine struct {
	NormalizedLine
	UnitPriceCents int64
	SubtotalCents  int64
}

type PricedCart struct {
	Lines      []PricedLine
	TotalCents int64
}

// ProductIDs returns the product ids of lines in order.
func ProductIDs(lines []NormalizedLine) []int64 {
	ids := make([]int64, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

// NormalizeCart merges lines for the same product by summing their quantities.
// Output keeps the order in which each product was first seen.
func NormalizeCart(lines []CartLineRequest) ([]NormalizedLine, error) {
	if len(lines) == 0 {
		return nil, NewInvalidInput("cart must contain at least one item")
	}

	var details []string
	for i, l := range lines {
		if l.ProductID <= 0 {
			details = append(details, fmt.Sprintf("items[%d].productId must be a positive integer", i))
		}
		if l.Quantity < 1 {
			details = append(details, fmt.Sprintf("items[%d].quantity must be >= 1", i))
		} else if l.Quantity > math.MaxInt32 {
			details = append(details, fmt.Sprintf("items[%d].quantity is too large", i))
		}
	}
	if len(details) > 0 {
		return nil, NewInvalidInput(details...)
	}

	index := make(map[int64]int, len(lines))
	out := make([]NormalizedLine, 0, len(lines))
	for _, l := range lines {
		pos, ok := index[l.ProductID]
		if !ok {
			index[l.ProductID] = len(out)
			out = append(out, NormalizedLine{ProductID: l.ProductID, Quantity: l.Quantity})
			continue
		}
		if out[pos].Quantity > math.MaxInt32-l.Quantity {
			return nil, NewInvalidInput(fmt.Sprintf("total quantity for product %d is too large", l.ProductID))
		}
		out[pos].Quantity += l.Quantity
	}

	return out, nil
}
