package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
)

// KafkaPublisher writes events to one Kafka topic, keyed by the relay
// topic name so KafkaSubscriber classifies them like Redis channels.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Partitioner = sarama.NewHashPartitioner // same key, same partition, same order
	config.Version = sarama.V2_0_0_0
	config.ClientID = "relay-service"
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newKafkaPublisher(producer, topic), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

// Publish returns the offset the event was written at. The context is only
// checked before sending; sarama's sync producer does not take one.
func (p *KafkaPublisher) Publish(ctx context.Context, topic, payload string) (int64, error) {
	if topic == "" {
		return 0, errors.New("topic is required")
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	_, offset, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(topic),
		Value: sarama.StringEncoder(payload),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to publish %s to kafka topic %s: %w", topic, p.topic, err)
	}
	return offset, nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
