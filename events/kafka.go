package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/pairworks/pairworker/cfg"
)

const kafkaDeliverTimeout = 10 * time.Second

func init() {
	RegisterSink("kafka", func(conf cfg.SinkConfiguration) (Sink, error) {
		return NewKafkaSink(conf.Brokers, conf.Topic)
	})
}

// KafkaSink publishes job events to one Kafka topic. The writer is bound to
// the topic, keyed by job ID so retries of the same job land on the same
// partition, and writes one small message at a time — events are rare
// relative to the data plane, so batching knobs stay at their defaults.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a writer bound to topic.
func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
	}, nil
}

// Deliver writes one event, bounded by a timeout so a dead broker cannot
// stall the job loop behind it.
func (k *KafkaSink) Deliver(key string, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), kafkaDeliverTimeout)
	defer cancel()

	err := k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", k.writer.Topic, err)
	}
	return nil
}

// Close releases the writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}
