package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/internal/model"
	"github.com/Gopher0727/ChatState/internal/state"
	"github.com/Gopher0727/ChatState/internal/utils"
	"github.com/Gopher0727/ChatState/utils/snowflake"
)

func event(t *testing.T, typ string, data string) Event {
	t.Helper()
	return Event{Type: typ, Data: json.RawMessage(data)}
}

func TestDispatcher_Ready(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())

	err := d.Dispatch(context.Background(), event(t, EventReady,
		`{"user": {"id": "1", "username": "selfbot", "discriminator": "1", "verified": true}}`))
	require.NoError(t, err)

	bot, ok := cache.BotUser()
	require.True(t, ok)
	assert.Equal(t, "selfbot", bot.Username())
	assert.True(t, bot.Verified())

	// A second READY for a different account must not displace the first.
	err = d.Dispatch(context.Background(), event(t, EventReady,
		`{"user": {"id": "2", "username": "imposter", "discriminator": "2"}}`))
	assert.ErrorIs(t, err, model.ErrDuplicateBotIdentity)
	bot, _ = cache.BotUser()
	assert.Equal(t, "selfbot", bot.Username())
}

func TestDispatcher_MemberLifecycle(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, event(t, EventGuildMemberAdd, `{
		"guild_id": "7",
		"user": {"id": "100", "username": "Ana", "discriminator": "1234"},
		"roles": ["1"],
		"joined_at": "2020-01-01T00:00:00+00:00"
	}`)))

	m, ok := cache.Member(7, 100)
	require.True(t, ok)
	assert.Equal(t, "Ana", m.Username())

	require.NoError(t, d.Dispatch(ctx, event(t, EventGuildMemberUpdate, `{
		"guild_id": "7",
		"user": {"id": "100", "username": "Anna", "discriminator": "1234"},
		"nick": "An"
	}`)))

	assert.Equal(t, "Anna", m.Username())
	nick, _ := m.Nick()
	assert.Equal(t, "An", nick)

	require.NoError(t, d.Dispatch(ctx, event(t, EventGuildMemberRemove, `{
		"guild_id": "7",
		"user": {"id": "100"}
	}`)))

	_, ok = cache.Member(7, 100)
	assert.False(t, ok)
	_, ok = cache.User(100)
	assert.False(t, ok)
}

func TestDispatcher_PresenceUpdate(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, event(t, EventGuildMemberAdd, `{
		"guild_id": "7",
		"user": {"id": "100", "username": "Ana", "discriminator": "1234"},
		"joined_at": "2020-01-01T00:00:00Z"
	}`)))

	require.NoError(t, d.Dispatch(ctx, event(t, EventPresenceUpdate, `{
		"guild_id": "7",
		"user": {"id": "100"},
		"status": "dnd",
		"activities": [{"type": 0, "name": "chess"}]
	}`)))

	m, _ := cache.Member(7, 100)
	require.NotNil(t, m.Presence())
	assert.Equal(t, model.StatusDND, m.Presence().Status)
	require.Len(t, m.Presence().Activities, 1)

	// Presence for an untracked member is dropped without error.
	require.NoError(t, d.Dispatch(ctx, event(t, EventPresenceUpdate, `{
		"guild_id": "7",
		"user": {"id": "9999"},
		"status": "online"
	}`)))
}

func TestDispatcher_MembersChunk(t *testing.T) {
	cache := state.New(zap.NewNop())
	pool := utils.NewWorkerPool(4, 64, zap.NewNop())
	pool.Start()
	defer pool.Stop()

	d := NewDispatcher(cache, pool, nil, zap.NewNop())

	members := make([]map[string]any, 0, 50)
	for i := range 50 {
		members = append(members, map[string]any{
			"user":      map[string]any{"id": snowflake.ID(i + 1).String(), "discriminator": "1"},
			"joined_at": "2020-01-01T00:00:00Z",
		})
	}
	data, err := json.Marshal(map[string]any{"guild_id": "7", "members": members})
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), Event{Type: EventGuildMembersChunk, Data: data}))

	s := cache.Stats()
	assert.Equal(t, 50, s.Users)
	assert.Equal(t, 50, s.Members)
}

func TestDispatcher_GuildDelete(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())
	ctx := context.Background()

	for _, guild := range []string{"7", "9"} {
		require.NoError(t, d.Dispatch(ctx, event(t, EventGuildMemberAdd, `{
			"guild_id": "`+guild+`",
			"user": {"id": "100", "username": "Ana", "discriminator": "1234"},
			"joined_at": "2020-01-01T00:00:00Z"
		}`)))
	}

	require.NoError(t, d.Dispatch(ctx, event(t, EventGuildDelete, `{"id": "7"}`)))

	_, ok := cache.Member(7, 100)
	assert.False(t, ok)
	_, ok = cache.Member(9, 100)
	assert.True(t, ok)
	_, ok = cache.User(100)
	assert.True(t, ok)
}

func TestDispatcher_MalformedEventLeavesCacheUntouched(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())

	err := d.Dispatch(context.Background(), event(t, EventGuildMemberAdd, `{
		"guild_id": "7",
		"user": {"id": "100", "username": "Ana"},
		"joined_at": "2020-01-01T00:00:00Z"
	}`))
	assert.ErrorIs(t, err, model.ErrMalformedPayload)

	s := cache.Stats()
	assert.Zero(t, s.Users)
	assert.Zero(t, s.Members)
}

func TestDispatcher_UnknownEventIsSkipped(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())

	assert.NoError(t, d.Dispatch(context.Background(), event(t, "MESSAGE_CREATE", `{"id": "5"}`)))
}

type published struct {
	guildID snowflake.ID
	typ     string
}

// capturingPublisher records what the dispatcher mirrors to the stream.
type capturingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *capturingPublisher) PublishEvent(_ context.Context, guildID snowflake.ID, ev Event) (int32, int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return 0, 0, p.err
	}
	p.events = append(p.events, published{guildID: guildID, typ: ev.Type})
	return 0, int64(len(p.events)), nil
}

func (p *capturingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.events)
}

func TestDispatcher_MirrorsAppliedEventsToStream(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())
	pub := &capturingPublisher{}
	d.SetEventPublisher(pub)
	ctx := context.Background()

	require.NoError(t, d.Dispatch(ctx, event(t, EventGuildMemberAdd, `{
		"guild_id": "7",
		"user": {"id": "100", "username": "Ana", "discriminator": "1234"},
		"joined_at": "2020-01-01T00:00:00Z"
	}`)))
	require.NoError(t, d.Dispatch(ctx, event(t, EventGuildDelete, `{"id": "7"}`)))

	assert.Equal(t, []published{
		{guildID: 7, typ: EventGuildMemberAdd},
		{guildID: 7, typ: EventGuildDelete},
	}, pub.all())
}

func TestDispatcher_DoesNotMirrorRejectedOrSkippedEvents(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())
	pub := &capturingPublisher{}
	d.SetEventPublisher(pub)
	ctx := context.Background()

	// Rejected: the cache never absorbed it, so the stream must not
	// carry it either.
	err := d.Dispatch(ctx, event(t, EventGuildMemberAdd, `{
		"guild_id": "7",
		"user": {"id": "bad", "username": "x", "discriminator": "1"},
		"joined_at": "2020-01-01T00:00:00Z"
	}`))
	require.ErrorIs(t, err, model.ErrMalformedPayload)

	// Unknown types are skipped, not mirrored.
	require.NoError(t, d.Dispatch(ctx, event(t, "MESSAGE_CREATE", `{"guild_id": "7"}`)))

	assert.Empty(t, pub.all())
}

func TestDispatcher_PublishFailureDoesNotFailDispatch(t *testing.T) {
	cache := state.New(zap.NewNop())
	d := NewDispatcher(cache, nil, nil, zap.NewNop())
	d.SetEventPublisher(&capturingPublisher{err: errors.New("brokers down")})

	require.NoError(t, d.Dispatch(context.Background(), event(t, EventGuildMemberAdd, `{
		"guild_id": "7",
		"user": {"id": "100", "username": "Ana", "discriminator": "1234"},
		"joined_at": "2020-01-01T00:00:00Z"
	}`)))

	_, ok := cache.Member(7, 100)
	assert.True(t, ok)
}
