package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Gopher0727/ChatState/config"
)

// setupTestClient backs a Client with an in-process miniredis.
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { rdb.Close() })

	return &Client{
		client: rdb,
		ttl:    time.Minute,
	}, mr
}

func TestNewClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		port, err := strconv.Atoi(mr.Port())
		require.NoError(t, err)

		client, err := NewClient(&config.RedisConfig{
			Host:           mr.Host(),
			Port:           port,
			PresenceTTLSec: 30,
		})
		require.NoError(t, err)
		defer client.Close()

		assert.NoError(t, client.Ping(context.Background()))
		assert.Equal(t, 30*time.Second, client.ttl)
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := NewClient(&config.RedisConfig{
			Host: "127.0.0.1",
			Port: 1,
		})
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestClient_MemberPresenceLifecycle(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	// Nothing mirrored yet reads as offline.
	_, ok, err := client.MemberPresence(ctx, 42, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.SetMemberPresence(ctx, 42, 100, "online"))

	status, ok, err := client.MemberPresence(ctx, 42, 100)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "online", status)

	// Updates replace the stored status.
	require.NoError(t, client.SetMemberPresence(ctx, 42, 100, "idle"))
	status, _, err = client.MemberPresence(ctx, 42, 100)
	require.NoError(t, err)
	assert.Equal(t, "idle", status)

	// The same user in another guild is a separate entry.
	_, ok, err = client.MemberPresence(ctx, 43, 100)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, client.ClearMemberPresence(ctx, 42, 100))
	_, ok, err = client.MemberPresence(ctx, 42, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClient_PresenceExpires(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetMemberPresence(ctx, 42, 100, "online"))

	ttl := mr.TTL(presenceKey(42, 100))
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)

	_, ok, err := client.MemberPresence(ctx, 42, 100)
	require.NoError(t, err)
	assert.False(t, ok)
}
