package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Connection is one shard's websocket session. It owns the single read
// goroutine for that shard, which is what keeps a guild's events applied in
// arrival order: a guild always maps to exactly one shard.
//
// Heartbeating, resume and reconnect belong to the transport layer that
// hands frames to this process; this connection only reads, decodes and
// dispatches.
type Connection struct {
	// SessionID identifies this session in logs.
	SessionID string

	// ShardID is the shard index this connection serves.
	ShardID int

	conn       *websocket.Conn
	dispatcher *Dispatcher
	logger     *zap.Logger

	// mu protects concurrent writes to the websocket connection.
	mu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	closed   bool
	closedMu sync.RWMutex
}

// NewConnection wraps an established websocket connection for one shard.
func NewConnection(ctx context.Context, shardID int, conn *websocket.Conn, dispatcher *Dispatcher, logger *zap.Logger) *Connection {
	if logger == nil {
		logger = zap.NewNop()
	}
	connCtx, cancel := context.WithCancel(ctx)
	sessionID := uuid.New().String()

	return &Connection{
		SessionID:  sessionID,
		ShardID:    shardID,
		conn:       conn,
		dispatcher: dispatcher,
		logger: logger.With(
			zap.String("session_id", sessionID),
			zap.Int("shard", shardID),
		),
		ctx:    connCtx,
		cancel: cancel,
	}
}

// Run reads frames until the connection closes or the context is
// cancelled. Malformed frames and rejected events are logged and dropped;
// the cache stays untouched for those, and the loop keeps going.
func (c *Connection) Run() error {
	defer c.Close()

	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
				return err
			}
			return nil
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Warn("dropping undecodable frame", zap.Error(err))
			continue
		}
		if ev.Type == "" {
			// Heartbeat acks and other non-dispatch frames.
			continue
		}

		if err := c.dispatcher.Dispatch(c.ctx, ev); err != nil {
			c.logger.Warn("dropping event",
				zap.String("type", ev.Type),
				zap.Error(err))
		}
	}
}

// WriteMessage writes a frame to the websocket connection. It is
// thread-safe and fails once the connection is closed.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return websocket.ErrCloseSent
	}
	return c.conn.WriteMessage(messageType, data)
}

// Close tears the session down. Safe to call multiple times.
func (c *Connection) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}
