package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"relay-service/internal/monitoring"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisSubscriber pattern-subscribes to Redis pub/sub.
type RedisSubscriber struct {
	client   *redis.Client
	patterns []string
	monitor  *monitoring.Monitor

	newBackOff func() backoff.BackOff
}

func NewRedisSubscriber(client *redis.Client, patterns []string, monitor *monitoring.Monitor) *RedisSubscriber {
	if len(patterns) == 0 {
		patterns = []string{"*"}
	}
	return &RedisSubscriber{
		client:     client,
		patterns:   patterns,
		monitor:    monitor,
		newBackOff: newRetryBackOff,
	}
}

func (s *RedisSubscriber) Name() string { return "redis" }

func (s *RedisSubscriber) Consume(ctx context.Context, out chan<- Event) error {
	b := s.newBackOff()
	for {
		err := s.session(ctx, out, b)
		if ctx.Err() != nil {
			return nil
		}

		s.monitor.Warn("bus", "redis subscription", err, "patterns", s.patterns)
		s.monitor.Metrics().BusReconnects.WithLabelValues(s.Name()).Inc()
		if sleep(ctx, b) != nil {
			return nil
		}
	}
}

// session runs one subscription until it breaks.
func (s *RedisSubscriber) session(ctx context.Context, out chan<- Event, b backoff.BackOff) error {
	pubsub := s.client.PSubscribe(ctx, s.patterns...)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("psubscribe %v: %w", s.patterns, err)
	}
	b.Reset()
	s.monitor.Event("bus_subscribed", "Subscribed to Redis patterns", "patterns", s.patterns)

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			return fmt.Errorf("receive: %w", err)
		}
		ev := Event{Topic: msg.Channel, Payload: msg.Payload, ReceivedAt: time.Now()}
		if err := deliver(ctx, out, ev); err != nil {
			return err
		}
	}
}

// RedisPublisher publishes raw payloads, used by the publish command and by
// integration tests to inject backend events.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// Publish returns the number of subscribers that received the message.
func (p *RedisPublisher) Publish(ctx context.Context, topic, payload string) (int64, error) {
	if topic == "" {
		return 0, errors.New("topic is required")
	}
	n, err := p.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return n, nil
}
