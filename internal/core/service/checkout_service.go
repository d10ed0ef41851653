package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/logger"
	"github.com/rl1809/checkout/internal/metrics"
	"github.com/rl1809/checkout/internal/port"
)

const (
	defaultCheckoutTimeout = 10 * time.Second
	releaseTimeout         = 2 * time.Second
	maxIdempotencyKeyLen   = 128
	defaultListLimit       = 20
	maxListLimit           = 100
)

type CheckoutCommand struct {
	UserID         int64
	IdempotencyKey string
	Items          []domain.CartLineRequest
}

type CheckoutResult struct {
	Order *domain.Order
	// Replayed is true when Order was created by an earlier request with the
	// same idempotency key.
	Replayed bool
}

type Dependencies struct {
	Catalog port.ProductCatalog
	UoW     port.UnitOfWork
	Orders  port.OrderReader
	// Idempotency is optional. Without it, duplicate keys are still caught by
	// the orders table.
	Idempotency port.IdempotencyStore
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Timeout     time.Duration
}

type CheckoutService struct {
	validator   *Validator
	executor    *Executor
	orders      port.OrderReader
	idempotency port.IdempotencyStore
	metrics     *metrics.Metrics
	log         *zap.Logger
	timeout     time.Duration
}

func NewCheckoutService(deps Dependencies) *CheckoutService {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultCheckoutTimeout
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &CheckoutService{
		validator:   NewValidator(deps.Catalog),
		executor:    NewExecutor(deps.UoW),
		orders:      deps.Orders,
		idempotency: deps.Idempotency,
		metrics:     deps.Metrics,
		log:         log,
		timeout:     timeout,
	}
}

// Checkout turns a cart into a paid order. Failures match exactly one of
// domain.ErrInvalidInput, domain.ErrStockConflict, domain.ErrTransactionFailure,
// or domain.ErrRequestInProgress for a duplicate that has not finished yet.
func (s *CheckoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (*CheckoutResult, error) {
	start := time.Now()
	log := logger.FromContext(ctx, s.log)

	res, err := s.checkout(ctx, cmd)

	outcome, unavailable := classifyOutcome(res, err)
	if s.metrics != nil {
		s.metrics.ObserveCheckout(outcome, unavailable, time.Since(start))
	}

	switch outcome {
	case metrics.OutcomeSuccess, metrics.OutcomeReplayed:
		log.Info("checkout completed",
			zap.Int64("order_id", res.Order.ID),
			zap.Int64("total_cents", res.Order.TotalCents),
			zap.Bool("replayed", res.Replayed),
			zap.Duration("elapsed", time.Since(start)))
	case metrics.OutcomeFailure:
		log.Error("checkout failed", zap.Error(err))
	default:
		log.Warn("checkout rejected", zap.String("outcome", outcome), zap.Error(err))
	}

	return res, err
}

func (s *CheckoutService) checkout(ctx context.Context, cmd CheckoutCommand) (*CheckoutResult, error) {
	if cmd.UserID <= 0 {
		return nil, domain.NewInvalidInput("user id must be a positive integer")
	}

	key := strings.TrimSpace(cmd.IdempotencyKey)
	if len(key) > maxIdempotencyKeyLen {
		return nil, domain.NewInvalidInput(fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyKeyLen))
	}

	lines, err := domain.NormalizeCart(cmd.Items)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if key == "" {
		return s.place(ctx, cmd.UserID, "", lines)
	}

	if s.idempotency != nil {
		storeKey := idempotencyStoreKey(cmd.UserID, key)
		r, err := s.idempotency.Reserve(ctx, storeKey)
		if err != nil {
			return nil, domain.NewTransactionFailure("reserve idempotency key", err)
		}
		if !r.Acquired {
			return s.replayReservation(ctx, r)
		}
		token := r.Token

		res, err := s.placeOnce(ctx, cmd.UserID, key, lines)
		if err != nil {
			s.release(ctx, storeKey, token)
			return nil, err
		}
		if err := s.idempotency.Complete(ctx, storeKey, token, res.Order.ID); err != nil {
			// A pending reservation would answer retries with ErrRequestInProgress.
			// Without it a retry reaches placeOnce and replays from the orders table.
			logger.FromContext(ctx, s.log).Warn("complete idempotency key",
				zap.String("key", storeKey), zap.Error(err))
			s.release(ctx, storeKey, token)
		}
		return res, nil
	}

	return s.placeOnce(ctx, cmd.UserID, key, lines)
}

// placeOnce places the order unless one already exists under key.
func (s *CheckoutService) placeOnce(ctx context.Context, userID int64, key string, lines []domain.NormalizedLine) (*CheckoutResult, error) {
	existing, err := s.orders.FindOrderByIdempotencyKey(ctx, userID, key)
	if err != nil {
		return nil, domain.NewTransactionFailure("find order by idempotency key", err)
	}
	if existing != nil {
		return &CheckoutResult{Order: existing, Replayed: true}, nil
	}

	res, err := s.place(ctx, userID, key, lines)
	if errors.Is(err, port.ErrDuplicateIdempotencyKey) {
		existing, ferr := s.orders.FindOrderByIdempotencyKey(ctx, userID, key)
		if ferr != nil || existing == nil {
			return nil, domain.NewTransactionFailure("replay duplicate order", errors.Join(err, ferr))
		}
		return &CheckoutResult{Order: existing, Replayed: true}, nil
	}
	return res, err
}

func (s *CheckoutService) place(ctx context.Context, userID int64, key string, lines []domain.NormalizedLine) (*CheckoutResult, error) {
	cart, err := s.validator.Price(ctx, lines)
	if err != nil {
		return nil, err
	}

	order, err := s.executor.Execute(ctx, userID, key, cart)
	if err != nil {
		return nil, err
	}

	return &CheckoutResult{Order: order}, nil
}

func (s *CheckoutService) replayReservation(ctx context.Context, r port.Reservation) (*CheckoutResult, error) {
	if r.OrderID == 0 {
		return nil, domain.ErrRequestInProgress
	}

	order, err := s.orders.GetOrder(ctx, r.OrderID)
	if err != nil {
		return nil, domain.NewTransactionFailure("load replayed order", err)
	}
	return &CheckoutResult{Order: order, Replayed: true}, nil
}

// release runs even if ctx is already done so a timed out attempt does not
// block retries until the reservation expires.
func (s *CheckoutService) release(ctx context.Context, key, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.idempotency.Release(ctx, key, token); err != nil {
		logger.FromContext(ctx, s.log).Warn("release idempotency key", zap.String("key", key), zap.Error(err))
	}
}

// GetOrder returns the order only if it belongs to userID.
func (s *CheckoutService) GetOrder(ctx context.Context, userID, orderID int64) (*domain.Order, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.NewTransactionFailure("get order", err)
	}
	if order.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// ListOrders returns the user's most recent orders, newest first.
func (s *CheckoutService) ListOrders(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	orders, err := s.orders.ListOrdersByUser(ctx, userID, limit)
	if err != nil {
		return nil, domain.NewTransactionFailure("list orders", err)
	}
	return orders, nil
}

func idempotencyStoreKey(userID int64, key string) string {
	return fmt.Sprintf("checkout:idem:%d:%s", userID, key)
}

func classifyOutcome(res *CheckoutResult, err error) (string, int) {
	var conflict *domain.StockConflictError
	switch {
	case err == nil && res.Replayed:
		return metrics.OutcomeReplayed, 0
	case err == nil:
		return metrics.OutcomeSuccess, 0
	case errors.As(err, &conflict):
		return metrics.OutcomeStockConflict, len(conflict.UnavailableProductIDs)
	case errors.Is(err, domain.ErrInvalidInput):
		return metrics.OutcomeInvalidInput, 0
	case errors.Is(err, domain.ErrRequestInProgress):
		return metrics.OutcomeInProgress, 0
	default:
		return metrics.OutcomeFailure, 0
	}
}
