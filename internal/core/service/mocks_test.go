package service

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/port"
)

// memStore is an in-memory catalog and order store. Transactions are fully
// serialized and work on a copy of the state that is swapped in on commit.
type memStore struct {
	mu    sync.Mutex
	state memState

	lookupErr  error
	lookups    int
	onLookup   func()
	beforeTx   func()
	failInsert map[string]error
	decrements []int64
}

type memState struct {
	products map[int64]domain.Product
	orders   map[int64]domain.Order
	payments []domain.Payment
	outbox   []domain.OutboxEvent
	nextID   int64
}

func newMemStore(products ...domain.Product) *memStore {
	s := &memStore{
		state: memState{
			products: make(map[int64]domain.Product),
			orders:   make(map[int64]domain.Order),
		},
		failInsert: make(map[string]error),
	}
	for _, p := range products {
		s.state.products[p.ID] = p
	}
	return s
}

func (s memState) clone() memState {
	return memState{
		products: maps.Clone(s.products),
		orders:   maps.Clone(s.orders),
		payments: slices.Clone(s.payments),
		outbox:   slices.Clone(s.outbox),
		nextID:   s.nextID,
	}
}

func (s *memStore) LookupActiveProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.lookups++
	err := s.lookupErr
	var out []domain.Product
	for _, id := range ids {
		if p, ok := s.state.products[id]; ok && p.IsActive {
			out = append(out, p)
		}
	}
	hook := s.onLookup
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *memStore) RunAtomic(ctx context.Context, fn func(tx port.CheckoutTx) error) error {
	if s.beforeTx != nil {
		s.beforeTx()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.state = tx.state
	return nil
}

func (s *memStore) GetOrder(_ context.Context, orderID int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.state.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (s *memStore) ListOrdersByUser(_ context.Context, userID int64, limit int) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Order
	for _, id := range slices.Backward(slices.Sorted(maps.Keys(s.state.orders))) {
		if o := s.state.orders[id]; o.UserID == userID && len(out) < limit {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *memStore) FindOrderByIdempotencyKey(_ context.Context, userID int64, key string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.state.orders {
		if o.UserID == userID && o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, nil
}

func (s *memStore) product(id int64) domain.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.products[id]
}

func (s *memStore) setStock(id int64, stock int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.state.products[id]
	p.Stock = stock
	s.state.products[id] = p
}

func (s *memStore) snapshot() memState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

type memTx struct {
	store *memStore
	state memState
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, quantity int) (bool, error) {
	t.store.decrements = append(t.store.decrements, productID)
	if err := t.store.failInsert["decrement"]; err != nil {
		return false, err
	}

	p, ok := t.state.products[productID]
	if !ok || !p.IsActive || p.Stock < quantity {
		return false, nil
	}
	p.Stock -= quantity
	t.state.products[productID] = p
	return true, nil
}

func (t *memTx) InsertOrder(_ context.Context, order domain.Order) (int64, error) {
	if err := t.store.failInsert["order"]; err != nil {
		return 0, err
	}
	if order.IdempotencyKey != "" {
		for _, o := range t.state.orders {
			if o.UserID == order.UserID && o.IdempotencyKey == order.IdempotencyKey {
				return 0, port.ErrDuplicateIdempotencyKey
			}
		}
	}

	t.state.nextID++
	order.ID = t.state.nextID
	order.Items = nil
	t.state.orders[order.ID] = order
	return order.ID, nil
}

func (t *memTx) InsertOrderItems(_ context.Context, orderID int64, items []domain.OrderItem) error {
	if err := t.store.failInsert["items"]; err != nil {
		return err
	}
	o, ok := t.state.orders[orderID]
	if !ok {
		return errors.New("order not found")
	}
	o.Items = slices.Clone(items)
	t.state.orders[orderID] = o
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	if err := t.store.failInsert["payment"]; err != nil {
		return err
	}
	t.state.payments = append(t.state.payments, payment)
	return nil
}

func (t *memTx) InsertOutboxEvent(_ context.Context, event domain.OutboxEvent) error {
	if err := t.store.failInsert["outbox"]; err != nil {
		return err
	}
	t.state.outbox = append(t.state.outbox, event)
	return nil
}

type memIdempotency struct {
	mu       sync.Mutex
	entries  map[string]port.Reservation
	err      error
	released []string
	// completeErr fails Complete only.
	completeErr error
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{entries: make(map[string]port.Reservation)}
}

func (m *memIdempotency) Reserve(_ context.Context, key string) (port.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return port.Reservation{}, m.err
	}
	if r, ok := m.entries[key]; ok {
		r.Acquired = false
		return r, nil
	}
	r := port.Reservation{Acquired: true, Token: uuid.NewString()}
	m.entries[key] = r
	return r, nil
}

func (m *memIdempotency) Complete(_ context.Context, key, token string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.completeErr != nil {
		return m.completeErr
	}
	if r, ok := m.entries[key]; ok && r.Token == token {
		r.OrderID = orderID
		m.entries[key] = r
	}
	return nil
}

func (m *memIdempotency) Release(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.entries[key]; ok && r.Token == token {
		delete(m.entries, key)
		m.released = append(m.released, key)
	}
	return nil
}
