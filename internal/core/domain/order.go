package domain

import "time"

type OrderStatus string

const (
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCancelled OrderStatus = "cancelled"
)

const PaymentMethodSimulated = "simulated"

type Order struct {
	ID             int64
	UserID         int64
	Status         OrderStatus
	TotalCents     int64
	IdempotencyKey string
	CreatedAt      time.Time
	Items          []OrderItem
}

type OrderItem struct {
	ProductID      int64
	Quantity       int
	UnitPriceCents int64
	SubtotalCents  int64
}

type Payment struct {
	OrderID     int64
	AmountCents int64
	Method      string
}

// NewOrderFromCart builds the order that a successful checkout of cart persists.
func NewOrderFromCart(userID int64, idempotencyKey string, cart PricedCart, now time.Time) Order {
	items := make([]OrderItem, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		items = append(items, OrderItem{
			ProductID:      l.ProductID,
			Quantity:       l.Quantity,
			UnitPriceCents: l.UnitPriceCents,
			SubtotalCents:  l.SubtotalCents,
		})
	}

	return Order{
		UserID:         userID,
		Status:         OrderStatusPaid,
		TotalCents:     cart.TotalCents,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		Items:          items,
	}
}
