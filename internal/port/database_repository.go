package port

import (
	"context"
	"errors"

	"github.com/rl1809/checkout/internal/core/domain"
)

// ErrDuplicateIdempotencyKey is returned by InsertOrder when the user already has
// an order under the same idempotency key.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

type ProductCatalog interface {
	// LookupActiveProducts returns the active products among ids in one query.
	// Missing or inactive ids are simply absent from the result.
	LookupActiveProducts(ctx context.Context, ids []int64) ([]domain.Product, error)
}

// UnitOfWork runs fn in a single database transaction. The transaction commits
// only if fn returns nil; any error, panic or context cancellation rolls it back.
type UnitOfWork interface {
	RunAtomic(ctx context.Context, fn func(tx CheckoutTx) error) error
}

// CheckoutTx is the set of writes a checkout performs inside a UnitOfWork.
type CheckoutTx interface {
	// DecrementStock subtracts quantity from an active product's stock only if
	// the stock covers it. Returns false when nothing was decremented.
	DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error)

	// InsertOrder persists order and returns its generated id.
	InsertOrder(ctx context.Context, order domain.Order) (int64, error)

	InsertOrderItems(ctx context.Context, orderID int64, items []domain.OrderItem) error

	InsertPayment(ctx context.Context, payment domain.Payment) error

	InsertOutboxEvent(ctx context.Context, event domain.OutboxEvent) error
}

type OrderReader interface {
	GetOrder(ctx context.Context, orderID int64) (*domain.Order, error)

	ListOrdersByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error)

	// FindOrderByIdempotencyKey returns nil, nil when no order carries the key.
	FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error)
}

type OutboxRepository interface {
	FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error)

	MarkPublished(ctx context.Context, eventID string) error
}
