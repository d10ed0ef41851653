package handler

import (
	"context"
	"time"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/core/service"
)

type fakeAPI struct {
	checkout   func(ctx context.Context, cmd service.CheckoutCommand) (*service.CheckoutResult, error)
	getOrder   func(ctx context.Context, userID, orderID int64) (*domain.Order, error)
	listOrders func(ctx context.Context, userID int64, limit int) ([]domain.Order, error)

	lastCommand service.CheckoutCommand
}

func (f *fakeAPI) Checkout(ctx context.Context, cmd service.CheckoutCommand) (*service.CheckoutResult, error) {
	f.lastCommand = cmd
	return f.checkout(ctx, cmd)
}

func (f *fakeAPI) GetOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	return f.getOrder(ctx, userID, orderID)
}

func (f *fakeAPI) ListOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	return f.listOrders(ctx, userID, limit)
}

func sampleOrder(id, userID int64) *domain.Order {
	return &domain.Order{
		ID:         id,
		UserID:     userID,
		Status:     domain.OrderStatusPaid,
		TotalCents: 2500,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Items: []domain.OrderItem{
			{ProductID: 1, Quantity: 2, UnitPriceCents: 1000, SubtotalCents: 2000},
			{ProductID: 2, Quantity: 1, UnitPriceCents: 500, SubtotalCents: 500},
		},
	}
}
