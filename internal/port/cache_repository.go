package port

import "context"

// Reservation is the state found under an idempotency key.
type Reservation struct {
	// Acquired is true when this call created the reservation.
	Acquired bool
	// Token identifies the holder; Complete and Release only act on a matching token.
	Token string
	// OrderID is set once the holder completed the checkout.
	OrderID int64
}

type IdempotencyStore interface {
	// Reserve claims key for a new checkout attempt, or reports who holds it.
	Reserve(ctx context.Context, key string) (Reservation, error)

	// Complete records the order created under a reservation.
	Complete(ctx context.Context, key, token string, orderID int64) error

	// Release drops a reservation so the key can be retried.
	Release(ctx context.Context, key, token string) error
}
