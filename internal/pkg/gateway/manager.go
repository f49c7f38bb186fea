package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/config"
	"github.com/Gopher0727/ChatState/utils/snowflake"
)

// ShardForGuild maps a guild to its shard index. The platform routes a
// guild's events by the timestamp bits of its id, so every event for one
// guild arrives on the same shard.
func ShardForGuild(guildID snowflake.ID, shardCount int) int {
	if shardCount <= 1 {
		return 0
	}
	return int((uint64(guildID) >> snowflake.TimestampShift) % uint64(shardCount))
}

// Manager owns the gateway connections of a multi-shard client and fans
// their event streams into one dispatcher.
type Manager struct {
	config     *config.GatewayConfig
	dispatcher *Dispatcher
	logger     *zap.Logger

	mu     sync.Mutex
	shards map[int]*Connection

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager; Start opens the connections.
func NewManager(ctx context.Context, cfg *config.GatewayConfig, dispatcher *Dispatcher, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	managerCtx, cancel := context.WithCancel(ctx)

	return &Manager{
		config:     cfg,
		dispatcher: dispatcher,
		logger:     logger,
		shards:     make(map[int]*Connection),
		ctx:        managerCtx,
		cancel:     cancel,
	}
}

// Start dials one connection per shard and runs their read loops. It
// returns once all shards are connected; read loops keep running until
// Stop or a transport failure.
func (m *Manager) Start() error {
	count := m.config.ShardCount
	if count <= 0 {
		count = 1
	}

	for shardID := range count {
		conn, _, err := websocket.DefaultDialer.DialContext(m.ctx, m.config.URL, nil)
		if err != nil {
			m.Stop()
			return fmt.Errorf("failed to dial gateway for shard %d: %w", shardID, err)
		}

		c := NewConnection(m.ctx, shardID, conn, m.dispatcher, m.logger)
		m.mu.Lock()
		m.shards[shardID] = c
		m.mu.Unlock()

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			if err := c.Run(); err != nil && m.ctx.Err() == nil {
				m.logger.Error("shard read loop ended",
					zap.Int("shard", c.ShardID),
					zap.Error(err))
			}
		}()

		m.logger.Info("shard connected",
			zap.Int("shard", shardID),
			zap.String("session_id", c.SessionID))
	}
	return nil
}

// Shard returns the connection serving the given shard index.
func (m *Manager) Shard(shardID int) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.shards[shardID]
	return c, ok
}

// Stop closes every connection and waits for the read loops to exit.
func (m *Manager) Stop() {
	m.cancel()

	m.mu.Lock()
	for _, c := range m.shards {
		if err := c.Close(); err != nil {
			m.logger.Warn("error closing shard", zap.Int("shard", c.ShardID), zap.Error(err))
		}
	}
	m.mu.Unlock()

	m.wg.Wait()
}
