package realtime

import (
	"context"
	"errors"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTransport shares events between instances over a pub/sub channel.
// Every instance, including the sender, delivers what it receives.
type RedisTransport struct {
	client  *redis.Client
	channel string
	log     *zap.Logger
}

func NewRedisTransport(client *redis.Client, channel string, log *zap.Logger) *RedisTransport {
	if client == nil || channel == "" {
		return nil
	}
	return &RedisTransport{client: client, channel: channel, log: log.Named("realtime.redis")}
}

func (t *RedisTransport) Send(ctx context.Context, evt Event) error {
	payload, err := encodeEnvelope(evt)
	if err != nil {
		return err
	}
	return t.client.Publish(ctx, t.channel, payload).Err()
}

func (t *RedisTransport) Listen(ctx context.Context, handle func(Event)) error {
	pubsub := t.client.Subscribe(ctx, t.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			evt, err := decodeEnvelope([]byte(msg.Payload))
			if err != nil {
				t.log.Warn("discarding malformed event", zap.Error(err))
				continue
			}
			handle(evt)
		}
	}
}
