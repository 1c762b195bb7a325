package events

import (
	"context"
	"mailbox/backend/internal/models"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RedisPublisher sends events straight to Redis. Short-lived processes such
// as the admin CLI use it instead of a Broker plus RedisBridge.
type RedisPublisher struct {
	transport Transport
	origin    string
	log       logrus.FieldLogger
}

func NewRedisPublisher(transport Transport, log logrus.FieldLogger) *RedisPublisher {
	return &RedisPublisher{
		transport: transport,
		origin:    uuid.NewString(),
		log:       log.WithField("component", "redis_publisher"),
	}
}

// Publish не повертає помилку: подія лише будить інші процеси.
func (p *RedisPublisher) Publish(ctx context.Context, event models.Event) {
	if event.Origin == "" {
		event.Origin = p.origin
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	if err := p.transport.PublishEvent(ctx, event); err != nil {
		p.log.WithError(err).WithField("event", event.Type).Warn("failed to publish event to redis")
	}
}
