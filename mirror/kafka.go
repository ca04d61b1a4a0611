package mirror

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/magpie-io/magpie/cfg"
)

const (
	defaultKafkaBatchSize  = 100
	defaultKafkaBatchBytes = 1 << 20 // 1MB
)

func init() {
	RegisterSink("kafka", func(conf cfg.MirrorConfiguration) (Sink, error) {
		return NewKafkaSink(conf.Brokers)
	})
}

// KafkaSink publishes recorded messages to Kafka, partitioned by channel name
// so one channel's records stay in publish order on one partition.
type KafkaSink struct {
	writer *kafka.Writer
}

// NewKafkaSink creates a KafkaSink against the given brokers
func NewKafkaSink(brokers []string) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{}, // Partition by key for per-channel ordering
		BatchSize:              defaultKafkaBatchSize,
		BatchBytes:             defaultKafkaBatchBytes,
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		AllowAutoTopicCreation: true,
	}

	return &KafkaSink{writer: writer}, nil
}

// Publish sends a message to Kafka
func (k *KafkaSink) Publish(topic, key string, value []byte) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}

	return k.writer.WriteMessages(context.Background(), msg)
}

// Close releases resources held by the KafkaSink
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
