package storage

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/rl1809/checkout/internal/port"
)

type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// BreakerIdempotencyStore fails fast with gobreaker.ErrOpenState while the
// wrapped store keeps failing, instead of letting every checkout wait on it.
type BreakerIdempotencyStore struct {
	next port.IdempotencyStore
	cb   *gobreaker.CircuitBreaker[port.Reservation]
}

func NewBreakerIdempotencyStore(next port.IdempotencyStore, s BreakerSettings, log *zap.Logger) *BreakerIdempotencyStore {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = 10 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker[port.Reservation](gobreaker.Settings{
		Name:        "idempotency-store",
		MaxRequests: 1,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &BreakerIdempotencyStore{next: next, cb: cb}
}

func (b *BreakerIdempotencyStore) Reserve(ctx context.Context, key string) (port.Reservation, error) {
	return b.cb.Execute(func() (port.Reservation, error) {
		return b.next.Reserve(ctx, key)
	})
}

func (b *BreakerIdempotencyStore) Complete(ctx context.Context, key, token string, orderID int64) error {
	_, err := b.cb.Execute(func() (port.Reservation, error) {
		return port.Reservation{}, b.next.Complete(ctx, key, token, orderID)
	})
	return err
}

func (b *BreakerIdempotencyStore) Release(ctx context.Context, key, token string) error {
	_, err := b.cb.Execute(func() (port.Reservation, error) {
		return port.Reservation{}, b.next.Release(ctx, key, token)
	})
	return err
}

func (b *BreakerIdempotencyStore) State() gobreaker.State {
	return b.cb.State()
}
