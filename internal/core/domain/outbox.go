package domain

import (
	"encoding/json"
	"strconv"
	"time"
)

const TopicOrderCreated = "order.created"

// OutboxEvent is written in the same transaction as the order it describes and
// relayed to the broker afterwards.
type OutboxEvent struct {
	ID        string
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}

type OrderCreatedPayload struct {
	OrderID    int64              `json:"order_id"`
	UserID     int64              `json:"user_id"`
	TotalCents int64              `json:"total_cents"`
	CreatedAt  time.Time          `json:"created_at"`
	Items      []OrderCreatedItem `json:"items"`
}

type OrderCreatedItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// NewOrderCreatedEvent serializes order into an order.created outbox event keyed
// by order id.
func NewOrderCreatedEvent(id string, order Order) (OutboxEvent, error) {
	payload := OrderCreatedPayload{
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalCents: order.TotalCents,
		CreatedAt:  order.CreatedAt,
		Items:      make([]OrderCreatedItem, 0, len(order.Items)),
	}
	for _, it := range order.Items {
		payload.Items = append(payload.Items, OrderCreatedItem{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}

	return OutboxEvent{
		ID:        id,
		Topic:     TopicOrderCreated,
		Key:       strconv.FormatInt(order.ID, 10),
		Payload:   data,
		CreatedAt: order.CreatedAt,
	}, nil
}
