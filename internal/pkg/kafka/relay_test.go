package kafka

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/internal/pkg/gateway"
	"github.com/Gopher0727/ChatState/internal/state"
)

func streamMessage(t *testing.T, value string) *sarama.ConsumerMessage {
	t.Helper()
	return &sarama.ConsumerMessage{
		Topic:     "chatstate.events",
		Partition: 0,
		Offset:    1,
		Value:     []byte(value),
	}
}

func TestEventRelay_AppliesMemberEvents(t *testing.T) {
	cache := state.New(zap.NewNop())
	relay := NewEventRelay(gateway.NewDispatcher(cache, nil, nil, zap.NewNop()), zap.NewNop())

	ctx := context.Background()
	err := relay(ctx, streamMessage(t, `{"t": "GUILD_MEMBER_ADD", "d": {
		"guild_id": "42",
		"user": {"id": "100", "username": "Riley", "discriminator": "0420"},
		"joined_at": "2021-03-04T05:06:07Z"
	}}`))
	require.NoError(t, err)

	m, ok := cache.Member(42, 100)
	require.True(t, ok)
	assert.Equal(t, "Riley", m.Username())

	err = relay(ctx, streamMessage(t, `{"t": "GUILD_MEMBER_REMOVE", "d": {
		"guild_id": "42",
		"user": {"id": "100"}
	}}`))
	require.NoError(t, err)

	_, ok = cache.Member(42, 100)
	assert.False(t, ok)
	assert.Equal(t, state.Stats{}, cache.Stats())
}

func TestEventRelay_DropsPermanentFailures(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{name: "not json", value: `{{{`},
		{name: "no event type", value: `{"d": {"guild_id": "42"}}`},
		{
			name: "malformed payload",
			value: `{"t": "GUILD_MEMBER_ADD", "d": {
				"guild_id": "42",
				"user": {"id": "not-a-snowflake", "username": "x", "discriminator": "1"},
				"joined_at": "2021-03-04T05:06:07Z"
			}}`,
		},
	}

	cache := state.New(zap.NewNop())
	relay := NewEventRelay(gateway.NewDispatcher(cache, nil, nil, zap.NewNop()), zap.NewNop())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Permanent failures are reported as handled so the
			// partition does not stall on retries.
			err := relay(context.Background(), streamMessage(t, tt.value))
			assert.NoError(t, err)
			assert.Equal(t, state.Stats{}, cache.Stats())
		})
	}
}

func TestEventRelay_EventRoundTrip(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"guild_id": "42",
		"user": map[string]any{
			"id": "100", "username": "Riley", "discriminator": "0420",
		},
		"joined_at": "2021-03-04T05:06:07Z",
	})
	require.NoError(t, err)

	ev := gateway.Event{Type: gateway.EventGuildMemberAdd, Data: raw}
	encoded, err := json.Marshal(ev)
	require.NoError(t, err)

	cache := state.New(zap.NewNop())
	relay := NewEventRelay(gateway.NewDispatcher(cache, nil, nil, zap.NewNop()), zap.NewNop())
	require.NoError(t, relay(context.Background(), streamMessage(t, string(encoded))))

	_, ok := cache.Member(42, 100)
	assert.True(t, ok)
}
