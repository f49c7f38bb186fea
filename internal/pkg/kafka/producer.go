package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/Gopher0727/ChatState/config"
	"github.com/Gopher0727/ChatState/internal/pkg/gateway"
	"github.com/Gopher0727/ChatState/utils/snowflake"
)

// Producer publishes gateway events to Kafka so that other services can
// rebuild the same entity state from the stream.
type Producer struct {
	producer sarama.SyncProducer
	config   *config.KafkaConfig
}

// NewProducer connects to the configured brokers with an idempotent
// sync producer. Acks wait for the full ISR, so an offset returned from
// Publish means the event is durable.
func NewProducer(cfg *config.KafkaConfig) (*Producer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = cfg.Producer.MaxRetries
	saramaConfig.Producer.Retry.Backoff = time.Duration(cfg.Producer.RetryBackoffMs) * time.Millisecond
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Idempotent = true
	saramaConfig.Net.MaxOpenRequests = 1

	// Connection timeouts so startup fails fast when brokers are down.
	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond
	saramaConfig.Metadata.Timeout = 10 * time.Second

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return &Producer{
		producer: producer,
		config:   cfg,
	}, nil
}

// Produce sends a raw message to the given topic. A nil key lets the
// partitioner choose freely.
func (p *Producer) Produce(ctx context.Context, topic string, key []byte, value []byte) (partition int32, offset int64, err error) {
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	default:
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != nil {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err = p.producer.SendMessage(msg)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to send message to topic %s: %w", topic, err)
	}
	return partition, offset, nil
}

// PublishEvent publishes a gateway event to the configured event topic,
// keyed by guild id. Keying by guild keeps every event for one guild on
// one partition, which preserves their relative order for consumers.
func (p *Producer) PublishEvent(ctx context.Context, guildID snowflake.ID, ev gateway.Event) (partition int32, offset int64, err error) {
	value, err := json.Marshal(ev)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to encode event %s: %w", ev.Type, err)
	}

	var key []byte
	if guildID != 0 {
		key = []byte(guildID.String())
	}
	return p.Produce(ctx, p.config.Topic, key, value)
}

// Close releases the producer's broker connections.
func (p *Producer) Close() error {
	if p.producer != nil {
		if err := p.producer.Close(); err != nil {
			return fmt.Errorf("failed to close kafka producer: %w", err)
		}
	}
	return nil
}
