package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/port"
)

// Executor persists a priced cart as an order, its items, a payment and the
// matching stock decrements in one transaction.
type Executor struct {
	uow port.UnitOfWork
	now func() time.Time
}

func NewExecutor(uow port.UnitOfWork) *Executor {
	return &Executor{uow: uow, now: time.Now}
}

// Execute re-checks stock with conditional decrements inside the transaction, so
// stock consumed after validation aborts the whole unit with a StockConflictError.
// A duplicate idempotency key is returned as port.ErrDuplicateIdempotencyKey.
func (e *Executor) Execute(ctx context.Context, userID int64, idempotencyKey string, cart domain.PricedCart) (*domain.Order, error) {
	order := domain.NewOrderFromCart(userID, idempotencyKey, cart, e.now().UTC().Truncate(time.Microsecond))

	err := e.uow.RunAtomic(ctx, func(tx port.CheckoutTx) error {
		if err := decrementStock(ctx, tx, cart.Lines); err != nil {
			return err
		}

		orderID, err := tx.InsertOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order.ID = orderID

		if err := tx.InsertOrderItems(ctx, orderID, order.Items); err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}

		err = tx.InsertPayment(ctx, domain.Payment{
			OrderID:     orderID,
			AmountCents: order.TotalCents,
			Method:      domain.PaymentMethodSimulated,
		})
		if err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		event, err := domain.NewOrderCreatedEvent(uuid.NewString(), order)
		if err != nil {
			return fmt.Errorf("encode order event: %w", err)
		}
		if err := tx.InsertOutboxEvent(ctx, event); err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, classifyTxError(err)
	}

	return &order, nil
}

// decrementStock walks lines in product id order so that concurrent checkouts
// lock product rows in the same order.
func decrementStock(ctx context.Context, tx port.CheckoutTx, lines []domain.PricedLine) error {
	sorted := slices.Clone(lines)
	slices.SortFunc(sorted, func(a, b domain.PricedLine) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})

	var unavailable []int64
	for _, line := range sorted {
		ok, err := tx.DecrementStock(ctx, line.ProductID, line.Quantity)
		if err != nil {
			return fmt.Errorf("decrement stock for product %d: %w", line.ProductID, err)
		}
		if !ok {
			unavailable = append(unavailable, line.ProductID)
		}
	}

	if len(unavailable) > 0 {
		return domain.NewStockConflict(unavailable)
	}
	return nil
}

func classifyTxError(err error) error {
	switch {
	case errors.Is(err, domain.ErrStockConflict),
		errors.Is(err, domain.ErrTransactionFailure),
		errors.Is(err, port.ErrDuplicateIdempotencyKey):
		return err
	default:
		return domain.NewTransactionFailure("checkout transaction", err)
	}
}
