package kafka

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/config"
)

// MessageHandler processes one consumed message. A returned error
// triggers the consumer's retry and dead-letter handling.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// Consumer reads the gateway event stream from Kafka and feeds each
// message to a handler. Messages that keep failing after the configured
// retries are copied to the dead-letter topic so the stream never stalls
// on one bad payload.
type Consumer struct {
	consumerGroup sarama.ConsumerGroup
	config        *config.KafkaConfig
	handler       MessageHandler
	dlqProducer   *Producer
	topics        []string
	logger        *zap.Logger
	ready         chan bool
	wg            sync.WaitGroup
	cancel        context.CancelFunc
}

type consumerGroupHandler struct {
	consumer *Consumer
}

// NewConsumer joins the configured consumer group for the given topics.
func NewConsumer(cfg *config.KafkaConfig, topics []string, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V2_6_0_0
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	saramaConfig.Net.DialTimeout = 10 * time.Second
	saramaConfig.Net.ReadTimeout = 10 * time.Second
	saramaConfig.Net.WriteTimeout = 10 * time.Second
	saramaConfig.Metadata.Retry.Max = 3
	saramaConfig.Metadata.Retry.Backoff = 250 * time.Millisecond
	saramaConfig.Metadata.Timeout = 10 * time.Second

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	dlqProducer, err := NewProducer(cfg)
	if err != nil {
		consumerGroup.Close()
		return nil, fmt.Errorf("failed to create DLQ producer: %w", err)
	}

	return &Consumer{
		consumerGroup: consumerGroup,
		config:        cfg,
		handler:       handler,
		dlqProducer:   dlqProducer,
		topics:        topics,
		logger:        logger,
		ready:         make(chan bool),
	}, nil
}

// Start begins consuming in the background and blocks until the group
// session is established.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Go(func() {
		handler := &consumerGroupHandler{consumer: c}
		for {
			if ctx.Err() != nil {
				return
			}

			if err := c.consumerGroup.Consume(ctx, c.topics, handler); err != nil {
				c.logger.Error("consumer group session failed", zap.Error(err))
			}

			if ctx.Err() != nil {
				return
			}

			// Rebalance happened; a fresh ready channel for the next session.
			c.ready = make(chan bool)
		}
	})

	<-c.ready
	return nil
}

// Stop cancels consumption and closes the group and DLQ producer.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	if err := c.consumerGroup.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer group: %w", err)
	}
	if err := c.dlqProducer.Close(); err != nil {
		return fmt.Errorf("failed to close DLQ producer: %w", err)
	}
	return nil
}

// Ready is closed once the consumer has joined the group.
func (c *Consumer) Ready() <-chan bool {
	return c.ready
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	close(h.consumer.ready)
	return nil
}

func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim applies messages from one partition in order. Because
// events are keyed by guild id, in-order delivery per partition is
// in-order delivery per guild.
func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message := <-claim.Messages():
			if message == nil {
				return nil
			}

			if err := h.processMessageWithRetry(session.Context(), message); err != nil {
				if dlqErr := h.sendToDLQ(session.Context(), message); dlqErr != nil {
					h.consumer.logger.Error("failed to dead-letter message",
						zap.String("topic", message.Topic),
						zap.Int32("partition", message.Partition),
						zap.Int64("offset", message.Offset),
						zap.Error(dlqErr))
				} else {
					h.consumer.logger.Warn("message dead-lettered",
						zap.String("topic", message.Topic),
						zap.Int32("partition", message.Partition),
						zap.Int64("offset", message.Offset),
						zap.Error(err))
				}
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

func (h *consumerGroupHandler) processMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	maxRetries := h.consumer.config.Consumer.MaxRetries
	backoff := time.Duration(h.consumer.config.Consumer.RetryBackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := h.consumer.handler(ctx, message)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt < maxRetries {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return fmt.Errorf("failed after %d retries: %w", maxRetries, lastErr)
}

func (h *consumerGroupHandler) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage) error {
	_, _, err := h.consumer.dlqProducer.Produce(ctx, h.consumer.config.DLQTopic, message.Key, message.Value)
	if err != nil {
		return fmt.Errorf("failed to send message to DLQ: %w", err)
	}
	return nil
}
