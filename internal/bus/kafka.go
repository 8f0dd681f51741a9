package bus

import (
	"context"
	"time"

	"relay-service/internal/monitoring"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
)

// KafkaSubscriber reads backend events from Kafka topics as a consumer
// group member. The record key, when present, carries the originating
// topic name (for example "laravel-database-channel.5"); otherwise the
// Kafka topic name is classified.
type KafkaSubscriber struct {
	config  kafka.ReaderConfig
	monitor *monitoring.Monitor

	newBackOff func() backoff.BackOff
}

func NewKafkaSubscriber(brokers, topics []string, groupID string, monitor *monitoring.Monitor) *KafkaSubscriber {
	return &KafkaSubscriber{
		config: kafka.ReaderConfig{
			Brokers:     brokers,
			GroupID:     groupID,
			GroupTopics: topics,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.LastOffset,
		},
		monitor:    monitor,
		newBackOff: newRetryBackOff,
	}
}

func (s *KafkaSubscriber) Name() string { return "kafka" }

func (s *KafkaSubscriber) Consume(ctx context.Context, out chan<- Event) error {
	reader := kafka.NewReader(s.config)
	defer reader.Close()

	s.monitor.Event("bus_subscribed", "Joined Kafka consumer group",
		"group", s.config.GroupID, "topics", s.config.GroupTopics)

	b := s.newBackOff()
	for {
		m, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.monitor.Warn("bus", "kafka read", err, "group", s.config.GroupID)
			s.monitor.Metrics().BusReconnects.WithLabelValues(s.Name()).Inc()
			if sleep(ctx, b) != nil {
				return nil
			}
			continue
		}
		b.Reset()

		if err := deliver(ctx, out, eventFromKafka(m)); err != nil {
			return nil
		}
	}
}

func eventFromKafka(m kafka.Message) Event {
	topic := m.Topic
	if len(m.Key) > 0 {
		topic = string(m.Key)
	}
	received := m.Time
	if received.IsZero() {
		received = time.Now()
	}
	return Event{Topic: topic, Payload: string(m.Value), ReceivedAt: received}
}
