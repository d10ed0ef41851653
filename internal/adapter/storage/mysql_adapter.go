package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/checkout/internal/core/domain"
	"github.com/rl1809/checkout/internal/port"
)

const mysqlDuplicateEntry = 1062

type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OpenMySQL opens and pings a connection pool. parseTime is forced on because
// the adapter scans DATETIME columns into time.Time.
func OpenMySQL(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}
	return db, nil
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) LookupActiveProducts(ctx context.Context, ids []int64) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, price_cents, stock, is_active
		FROM products
		WHERE is_active = 1 AND id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.PriceCents, &p.Stock, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

// RunAtomic runs fn in a READ COMMITTED transaction. Stock is only changed by
// conditional UPDATEs, which lock the row and re-read the committed value, so
// the weaker isolation level is enough and avoids gap locks.
func (m *MySQLAdapter) RunAtomic(ctx context.Context, fn func(tx port.CheckoutTx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) DecrementStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - ?, updated_at = NOW(6)
		WHERE id = ? AND is_active = 1 AND stock >= ?`,
		quantity, productID, quantity,
	)
	if err != nil {
		return false, fmt.Errorf("update stock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return rows == 1, nil
}

func (t *mysqlTx) InsertOrder(ctx context.Context, order domain.Order) (int64, error) {
	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO orders (user_id, status, total_cents, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		order.UserID, order.Status, order.TotalCents,
		sql.NullString{String: order.IdempotencyKey, Valid: order.IdempotencyKey != ""},
		order.CreatedAt,
	)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return 0, port.ErrDuplicateIdempotencyKey
		}
		return 0, err
	}
	return result.LastInsertId()
}

func (t *mysqlTx) InsertOrderItems(ctx context.Context, orderID int64, items []domain.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	values := make([]string, 0, len(items))
	args := make([]any, 0, len(items)*5)
	for _, it := range items {
		values = append(values, "(?, ?, ?, ?, ?)")
		args = append(args, orderID, it.ProductID, it.Quantity, it.UnitPriceCents, it.SubtotalCents)
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO order_items (order_id, product_id, quantity, unit_price_cents, subtotal_cents)
		VALUES `+strings.Join(values, ", "),
		args...,
	)
	return err
}

func (t *mysqlTx) InsertPayment(ctx context.Context, payment domain.Payment) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO payments (order_id, amount_cents, method)
		VALUES (?, ?, ?)`,
		payment.OrderID, payment.AmountCents, payment.Method,
	)
	return err
}

func (t *mysqlTx) InsertOutboxEvent(ctx context.Context, event domain.OutboxEvent) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (id, topic, event_key, payload, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		event.ID, event.Topic, event.Key, event.Payload, event.CreatedAt,
	)
	return err
}

func (m *MySQLAdapter) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var o domain.Order
	var key sql.NullString
	err := m.db.QueryRowContext(ctx, `
		SELECT id, user_id, status, total_cents, idempotency_key, created_at
		FROM orders WHERE id = ?`, orderID,
	).Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &key, &o.CreatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	o.IdempotencyKey = key.String

	items, err := m.orderItems(ctx, []int64{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return &o, nil
}

func (m *MySQLAdapter) ListOrdersByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, user_id, status, total_cents, idempotency_key, created_at
		FROM orders WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query orders by user: %w", err)
	}
	defer rows.Close()

	var orders []domain.Order
	var ids []int64
	for rows.Next() {
		var o domain.Order
		var key sql.NullString
		if err := rows.Scan(&o.ID, &o.UserID, &o.Status, &o.TotalCents, &key, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.IdempotencyKey = key.String
		orders = append(orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}

	items, err := m.orderItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (m *MySQLAdapter) FindOrderByIdempotencyKey(ctx context.Context, userID int64, key string) (*domain.Order, error) {
	var id int64
	err := m.db.QueryRowContext(ctx, `
		SELECT id FROM orders WHERE user_id = ? AND idempotency_key = ?`, userID, key,
	).Scan(&id)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order by idempotency key: %w", err)
	}
	return m.GetOrder(ctx, id)
}

func (m *MySQLAdapter) orderItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT order_id, product_id, quantity, unit_price_cents, subtotal_cents
		FROM order_items
		WHERE order_id IN (`+placeholders(len(orderIDs))+`)
		ORDER BY id`,
		int64Args(orderIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	defer rows.Close()

	items := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		var orderID int64
		var it domain.OrderItem
		if err := rows.Scan(&orderID, &it.ProductID, &it.Quantity, &it.UnitPriceCents, &it.SubtotalCents); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items[orderID] = append(items[orderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (m *MySQLAdapter) FetchUnpublished(ctx context.Context, limit int) ([]domain.OutboxEvent, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, topic, event_key, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var events []domain.OutboxEvent
	for rows.Next() {
		var e domain.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return events, nil
}

func (m *MySQLAdapter) MarkPublished(ctx context.Context, eventID string) error {
	_, err := m.db.ExecContext(ctx, `
		UPDATE outbox_events SET published_at = NOW(6)
		WHERE id = ? AND published_at IS NULL`, eventID,
	)
	if err != nil {
		return fmt.Errorf("mark outbox event published: %w", err)
	}
	return nil
}

// GetProduct reads a product regardless of its active flag.
func (m *MySQLAdapter) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	var p domain.Product
	err := m.db.QueryRowContext(ctx, `
		SELECT id, price_cents, stock, is_active FROM products WHERE id = ?`, id,
	).Scan(&p.ID, &p.PriceCents, &p.Stock, &p.IsActive)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// SaveProduct inserts or overwrites a product. The catalog owns products; this
// is used to seed fixtures and load-test data.
func (m *MySQLAdapter) SaveProduct(ctx context.Context, p domain.Product) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO products (id, price_cents, stock, is_active) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE price_cents = VALUES(price_cents), stock = VALUES(stock), is_active = VALUES(is_active)`,
		p.ID, p.PriceCents, p.Stock, p.IsActive,
	)
	if err != nil {
		return fmt.Errorf("save product: %w", err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
