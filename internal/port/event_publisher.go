package port

import "context"

type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
}
