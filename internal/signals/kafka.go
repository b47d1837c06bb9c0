package signals

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"

	"anonid/internal/platform/config"
)

// Kafka publishes signal events to a Kafka topic, fire-and-forget. Delivery
// failures are invisible to the identity path by design; operational
// visibility comes from the broker side.
type Kafka struct {
	client *kgo.Client
	topic  string
}

// NewKafka connects a producer to the configured brokers. Returns nil when
// no brokers are configured (signals disabled).
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, nil
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &Kafka{client: client, topic: cfg.Topic}, nil
}

// Emit produces the event asynchronously. The returned error covers only
// marshaling; produce failures are dropped with the record.
func (k *Kafka) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal signal event: %w", err)
	}

	record := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(event.Subject),
		Value: payload,
	}
	k.client.Produce(ctx, record, nil)
	return nil
}

// Close flushes pending records and releases the client.
func (k *Kafka) Close() {
	k.client.Flush(context.Background())
	k.client.Close()
}
