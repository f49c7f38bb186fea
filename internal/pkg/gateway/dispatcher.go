package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/internal/model"
	"github.com/Gopher0727/ChatState/internal/state"
	"github.com/Gopher0727/ChatState/internal/utils"
	"github.com/Gopher0727/ChatState/utils/snowflake"
)

// PresenceMirror publishes member liveness to an external store so other
// nodes can query it. The dispatcher treats it as optional and best-effort.
type PresenceMirror interface {
	SetMemberPresence(ctx context.Context, guildID, userID snowflake.ID, status string) error
	ClearMemberPresence(ctx context.Context, guildID, userID snowflake.ID) error
}

// EventPublisher mirrors raw gateway events to a stream so nodes without
// a gateway connection can rebuild the same state. Keying by guild keeps
// per-guild order across stream partitions.
type EventPublisher interface {
	PublishEvent(ctx context.Context, guildID snowflake.ID, ev Event) (partition int32, offset int64, err error)
}

// Dispatcher routes decoded gateway events into the cache. One dispatcher
// serves all shards; per-(guild, user) ordering is preserved because a
// guild's events always arrive on the same shard's single read goroutine.
type Dispatcher struct {
	cache     *state.Cache
	pool      *utils.WorkerPool
	mirror    PresenceMirror // may be nil
	publisher EventPublisher // may be nil
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. pool handles bulk member chunks and
// may be nil, in which case chunks are applied inline. mirror may be nil.
func NewDispatcher(cache *state.Cache, pool *utils.WorkerPool, mirror PresenceMirror, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cache:  cache,
		pool:   pool,
		mirror: mirror,
		logger: logger,
	}
}

// SetEventPublisher attaches a best-effort stream mirror. Events that
// applied cleanly are published after the cache absorbed them; publish
// failures are logged and never fail the dispatch.
func (d *Dispatcher) SetEventPublisher(p EventPublisher) {
	d.publisher = p
}

// Dispatch applies one event to the cache. Unknown event types are skipped.
// A malformed event is reported as an error and leaves the cache untouched;
// callers log and move on, the stream itself is fine.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	handled, err := d.apply(ctx, ev)
	if err != nil {
		return err
	}
	if handled {
		d.publish(ctx, ev)
	}
	return nil
}

func (d *Dispatcher) apply(ctx context.Context, ev Event) (bool, error) {
	switch ev.Type {
	case EventReady:
		return true, d.handleReady(ev.Data)
	case EventGuildMemberAdd, EventGuildMemberUpdate:
		return true, d.handleMember(ev.Data)
	case EventGuildMemberRemove:
		return true, d.handleMemberRemove(ctx, ev.Data)
	case EventGuildMembersChunk:
		return true, d.handleMembersChunk(ev.Data)
	case EventGuildDelete:
		return true, d.handleGuildDelete(ev.Data)
	case EventPresenceUpdate:
		return true, d.handlePresence(ctx, ev.Data)
	default:
		d.logger.Debug("skipping event", zap.String("type", ev.Type))
		return false, nil
	}
}

func (d *Dispatcher) publish(ctx context.Context, ev Event) {
	if d.publisher == nil {
		return
	}
	if _, _, err := d.publisher.PublishEvent(ctx, eventGuildID(ev), ev); err != nil {
		d.logger.Warn("failed to mirror event to stream",
			zap.String("type", ev.Type),
			zap.Error(err))
	}
}

// eventGuildID extracts the guild an event is scoped to, for stream
// partitioning. Guild-less events (READY) key as zero.
func eventGuildID(ev Event) snowflake.ID {
	var scope struct {
		GuildID string `json:"guild_id"`
		ID      string `json:"id"`
	}
	if err := json.Unmarshal(ev.Data, &scope); err != nil {
		return 0
	}
	raw := scope.GuildID
	if ev.Type == EventGuildDelete {
		raw = scope.ID
	}
	id, err := snowflake.ParseID(raw)
	if err != nil {
		return 0
	}
	return id
}

func (d *Dispatcher) handleReady(data json.RawMessage) error {
	var ready readyData
	if err := json.Unmarshal(data, &ready); err != nil {
		return fmt.Errorf("%w: ready event: %v", model.ErrMalformedPayload, err)
	}
	bot, err := d.cache.SetBotUser(ready.User)
	if err != nil {
		return err
	}
	d.logger.Info("session ready", zap.Stringer("bot_id", bot.ID()))
	return nil
}

func (d *Dispatcher) handleMember(data json.RawMessage) error {
	var ev memberEventData
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: member event: %v", model.ErrMalformedPayload, err)
	}
	guildID, err := snowflake.ParseID(ev.GuildID)
	if err != nil {
		return fmt.Errorf("%w: guild id %q", model.ErrMalformedPayload, ev.GuildID)
	}
	_, err = d.cache.ResolveMember(guildID, ev.MemberPayload)
	return err
}

func (d *Dispatcher) handleMemberRemove(ctx context.Context, data json.RawMessage) error {
	var ev memberRemoveData
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: member remove event: %v", model.ErrMalformedPayload, err)
	}
	if ev.User == nil {
		return fmt.Errorf("%w: member remove without user", model.ErrMalformedPayload)
	}
	guildID, err := snowflake.ParseID(ev.GuildID)
	if err != nil {
		return fmt.Errorf("%w: guild id %q", model.ErrMalformedPayload, ev.GuildID)
	}
	userID, err := snowflake.ParseID(ev.User.ID)
	if err != nil {
		return fmt.Errorf("%w: user id %q", model.ErrMalformedPayload, ev.User.ID)
	}

	if d.cache.RemoveMember(guildID, userID) && d.mirror != nil {
		if err := d.mirror.ClearMemberPresence(ctx, guildID, userID); err != nil {
			d.logger.Warn("failed to clear mirrored presence", zap.Error(err))
		}
	}
	return nil
}

func (d *Dispatcher) handleMembersChunk(data json.RawMessage) error {
	var chunk membersChunkData
	if err := json.Unmarshal(data, &chunk); err != nil {
		return fmt.Errorf("%w: members chunk: %v", model.ErrMalformedPayload, err)
	}
	guildID, err := snowflake.ParseID(chunk.GuildID)
	if err != nil {
		return fmt.Errorf("%w: guild id %q", model.ErrMalformedPayload, chunk.GuildID)
	}

	if d.pool == nil {
		for _, p := range chunk.Members {
			if _, err := d.cache.ResolveMember(guildID, p); err != nil {
				d.logger.Warn("dropping chunk member", zap.Stringer("guild_id", guildID), zap.Error(err))
			}
		}
		return nil
	}

	// Chunk entries are independent of each other, so they can fan out;
	// Dispatch still waits for them all to keep later events for the
	// same guild ordered behind the chunk.
	var wg sync.WaitGroup
	for _, p := range chunk.Members {
		wg.Add(1)
		d.pool.Submit(func() {
			defer wg.Done()
			if _, err := d.cache.ResolveMember(guildID, p); err != nil {
				d.logger.Warn("dropping chunk member", zap.Stringer("guild_id", guildID), zap.Error(err))
			}
		})
	}
	wg.Wait()
	d.logger.Debug("applied members chunk",
		zap.Stringer("guild_id", guildID),
		zap.Int("count", len(chunk.Members)))
	return nil
}

func (d *Dispatcher) handleGuildDelete(data json.RawMessage) error {
	var ev guildDeleteData
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: guild delete event: %v", model.ErrMalformedPayload, err)
	}
	guildID, err := snowflake.ParseID(ev.ID)
	if err != nil {
		return fmt.Errorf("%w: guild id %q", model.ErrMalformedPayload, ev.ID)
	}
	d.cache.RemoveGuild(guildID)
	return nil
}

func (d *Dispatcher) handlePresence(ctx context.Context, data json.RawMessage) error {
	var ev presenceUpdateData
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("%w: presence event: %v", model.ErrMalformedPayload, err)
	}
	if ev.User == nil {
		return fmt.Errorf("%w: presence without user", model.ErrMalformedPayload)
	}
	guildID, err := snowflake.ParseID(ev.GuildID)
	if err != nil {
		return fmt.Errorf("%w: guild id %q", model.ErrMalformedPayload, ev.GuildID)
	}
	userID, err := snowflake.ParseID(ev.User.ID)
	if err != nil {
		return fmt.Errorf("%w: user id %q", model.ErrMalformedPayload, ev.User.ID)
	}

	// Presence for a member nobody tracks is dropped silently; the member
	// list for that guild was never requested.
	if !d.cache.SetPresence(guildID, userID, model.PresencePayload{
		Status:     ev.Status,
		Activities: ev.Activities,
	}) {
		return nil
	}

	if d.mirror != nil {
		if err := d.mirror.SetMemberPresence(ctx, guildID, userID, ev.Status); err != nil {
			d.logger.Warn("failed to mirror presence", zap.Error(err))
		}
	}
	return nil
}
