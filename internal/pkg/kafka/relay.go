package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/internal/model"
	"github.com/Gopher0727/ChatState/internal/pkg/gateway"
)

// NewEventRelay returns a handler that decodes gateway events from the
// stream and applies them through the dispatcher, so a consumer group
// member mirrors the same entity state as a live gateway connection.
//
// Undecodable frames and payloads the cache rejects are permanent
// failures; retrying them cannot succeed, so the relay reports them
// once and drops them instead of blocking the partition.
func NewEventRelay(dispatcher *gateway.Dispatcher, logger *zap.Logger) MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		var ev gateway.Event
		if err := json.Unmarshal(message.Value, &ev); err != nil {
			logger.Warn("dropping undecodable stream message",
				zap.String("topic", message.Topic),
				zap.Int32("partition", message.Partition),
				zap.Int64("offset", message.Offset),
				zap.Error(err))
			return nil
		}
		if ev.Type == "" {
			return nil
		}

		if err := dispatcher.Dispatch(ctx, ev); err != nil {
			if errors.Is(err, model.ErrMalformedPayload) || errors.Is(err, model.ErrDuplicateBotIdentity) {
				logger.Warn("dropping rejected stream event",
					zap.String("type", ev.Type),
					zap.Int64("offset", message.Offset),
					zap.Error(err))
				return nil
			}
			return fmt.Errorf("failed to apply event %s: %w", ev.Type, err)
		}
		return nil
	}
}
