package domain

// Product is the catalog's view of a sellable item. Checkout only reads it and
// decrements Stock inside the checkout transaction.
type Product struct {
	ID         int64
	PriceCents int64
	Stock      int
	IsActive   bool
}
