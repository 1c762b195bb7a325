package events

import (
	"context"
	"encoding/json"
	"mailbox/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Transport is the Redis side of the bridge, implemented by *storage.Service.
type Transport interface {
	PublishEvent(ctx context.Context, event models.Event) error
	SubscribeEvents(ctx context.Context) (*redis.PubSub, error)
}

// RedisBridge forwards local events to Redis and remote events from Redis
// into the local broker, so a CLI or a second API replica can wake the bot.
type RedisBridge struct {
	broker    *Broker
	transport Transport
	log       logrus.FieldLogger
	ready     chan struct{}
}

func NewRedisBridge(broker *Broker, transport Transport, log logrus.FieldLogger) *RedisBridge {
	return &RedisBridge{
		broker:    broker,
		transport: transport,
		log:       log.WithField("component", "redis_bridge"),
		ready:     make(chan struct{}),
	}
}

// Ready is closed once the Redis subscription is confirmed.
func (r *RedisBridge) Ready() <-chan struct{} { return r.ready }

// Run blocks until ctx is cancelled.
func (r *RedisBridge) Run(ctx context.Context) error {
	local, cancel := r.broker.Subscribe()
	defer cancel()

	pubsub, err := r.transport.SubscribeEvents(ctx)
	if err != nil {
		return err
	}
	defer pubsub.Close()

	// Чекаємо підтвердження підписки, інакше перші події загубляться.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	close(r.ready)
	remote := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-local:
			if !ok {
				return nil
			}
			if ev.Origin != r.broker.Origin() {
				continue // не повертаємо чужі події назад у Redis
			}
			if err := r.transport.PublishEvent(ctx, ev); err != nil {
				r.log.WithError(err).WithField("event", ev.Type).Warn("failed to publish event to redis")
			}

		case msg, ok := <-remote:
			if !ok {
				return nil
			}
			var ev models.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.log.WithError(err).Warn("error unmarshalling redis event")
				continue
			}
			if ev.Origin == r.broker.Origin() {
				continue
			}
			r.broker.dispatch(ev)
		}
	}
}
