package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/metrics"
	"github.com/rl1809/checkout/internal/port"
)

type RelayConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	Workers        int
	PublishTimeout time.Duration
}

// OutboxRelay polls committed outbox events and publishes them. Delivery is
// at least once: an event is marked published only after the broker acked it.
type OutboxRelay struct {
	repo      port.OutboxRepository
	publisher port.EventPublisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	cfg       RelayConfig
}

func NewOutboxRelay(repo port.OutboxRepository, publisher port.EventPublisher, m *metrics.Metrics, log *zap.Logger, cfg RelayConfig) *OutboxRelay {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &OutboxRelay{repo: repo, publisher: publisher, metrics: m, log: log, cfg: cfg}
}

// Run polls until ctx is done.
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.log.Info("outbox relay started", zap.Int("workers", r.cfg.Workers), zap.Duration("interval", r.cfg.PollInterval))
	for {
		select {
		case <-ticker.C:
			r.RelayOnce(ctx)
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		}
	}
}

// RelayOnce publishes one batch and returns how many events were published.
func (r *OutboxRelay) RelayOnce(ctx context.Context) int {
	events, err := r.repo.FetchUnpublished(ctx, r.cfg.BatchSize)
	if err != nil {
		r.log.Error("fetch outbox events", zap.Error(err))
		return 0
	}
	if len(events) == 0 {
		return 0
	}

	queue := make(chan domain.OutboxEvent)
	var published int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < min(r.cfg.Workers, len(events)); i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for event := range queue {
				if r.relay(ctx, id, event) {
					mu.Lock()
					published++
					mu.Unlock()
				}
			}
		}(i)
	}

	for _, event := range events {
		queue <- event
	}
	close(queue)
	wg.Wait()

	return published
}

func (r *OutboxRelay) relay(ctx context.Context, workerID int, event domain.OutboxEvent) bool {
	pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
	defer cancel()

	log := r.log.With(zap.Int("worker", workerID), zap.String("event_id", event.ID), zap.String("topic", event.Topic))

	if err := r.publisher.Publish(pubCtx, event.Topic, event.Key, event.Payload); err != nil {
		log.Warn("publish outbox event", zap.Error(err))
		r.observe("publish_failed")
		return false
	}

	// A failed mark means the event is published again on the next poll.
	if err := r.repo.MarkPublished(ctx, event.ID); err != nil {
		log.Error("mark outbox event published", zap.Error(err))
		r.observe("mark_failed")
		return false
	}

	log.Debug("outbox event published")
	r.observe("published")
	return true
}

func (r *OutboxRelay) observe(result string) {
	if r.metrics != nil {
		r.metrics.OutboxEvents.WithLabelValues(result).Inc()
	}
}
