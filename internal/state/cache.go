package state

import (
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync"
	"go.uber.org/zap"

	"github.com/Gopher0727/ChatState/internal/model"
	"github.com/Gopher0727/ChatState/utils/snowflake"
)

// Cache is the single authoritative in-memory registry for users, members
// and presences discovered from the event stream. It is the sole
// construction authority: every canonical User is interned here exactly
// once per id, and every Member wrapping that user shares the one interned
// instance.
//
// Reads go through the lock-free index maps. Structural mutations (intern,
// remove, evict) are serialized by a registry mutex; field updates take the
// entity's own lock, so an update is observed fully applied or not at all.
type Cache struct {
	logger *zap.Logger

	// users is keyed by the user id's decimal form, members by
	// "<guild>:<user>". At most one live entry exists per key.
	users   *xsync.MapOf[string, *model.User]
	members *xsync.MapOf[string, *model.Member]

	// mu serializes structural transitions and guards refs.
	mu sync.Mutex

	// refs counts live references to each user: one per registered
	// member plus one per external Retain. A user is evicted when its
	// count drops to zero, never on any single member's removal alone.
	refs map[snowflake.ID]int

	botMu sync.Mutex
	bot   *model.BotUser
}

// New creates an empty cache.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		logger:  logger,
		users:   xsync.NewMapOf[*model.User](),
		members: xsync.NewMapOf[*model.Member](),
		refs:    make(map[snowflake.ID]int),
	}
}

// ResolveUser looks the payload's account up by id, applying a partial
// update and returning the existing shared reference when present, or
// interning a new canonical User otherwise. Repeated identical payloads are
// no-ops returning the same reference. A malformed payload leaves the
// cache untouched.
func (c *Cache) ResolveUser(p model.UserPayload) (*model.User, error) {
	id, err := snowflake.ParseID(p.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: user id %q", model.ErrMalformedPayload, p.ID)
	}

	if u, ok := c.users.Load(id.String()); ok {
		if err := u.ApplyUpdate(p); err != nil {
			return nil, err
		}
		// A concurrent eviction can race the lock-free update; confirm
		// the instance is still interned before handing it out, and
		// re-intern otherwise so two live instances never share an id.
		c.mu.Lock()
		cur, still := c.users.Load(id.String())
		c.mu.Unlock()
		if still && cur == u {
			return u, nil
		}
	}

	c.mu.Lock()
	u, created, err := c.internUserLocked(id, p)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !created {
		if err := u.ApplyUpdate(p); err != nil {
			return nil, err
		}
	}
	return u, nil
}

// internUserLocked returns the interned user for id, creating and
// registering it from p when absent. Callers hold c.mu.
func (c *Cache) internUserLocked(id snowflake.ID, p model.UserPayload) (*model.User, bool, error) {
	if u, ok := c.users.Load(id.String()); ok {
		return u, false, nil
	}
	u, err := model.NewUser(p)
	if err != nil {
		return nil, false, err
	}
	c.users.Store(id.String(), u)
	c.logger.Debug("interned user", zap.Stringer("user_id", id))
	return u, true, nil
}

// ResolveMember looks the (guild, user) pair up, applying the partial-update
// rule to an existing member or constructing and registering a new one. The
// nested user payload is resolved through the same interning path as
// ResolveUser, which is what guarantees every member of every guild shares
// one User per account. A malformed payload leaves the cache untouched.
func (c *Cache) ResolveMember(guildID snowflake.ID, p model.MemberPayload) (*model.Member, error) {
	if p.User == nil {
		return nil, fmt.Errorf("%w: member without nested user", model.ErrMalformedPayload)
	}
	userID, err := snowflake.ParseID(p.User.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: user id %q", model.ErrMalformedPayload, p.User.ID)
	}

	key := memberKey(guildID, userID)
	if m, ok := c.members.Load(key); ok {
		return m, m.ApplyUpdate(p)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if m, ok := c.members.Load(key); ok {
		// Lost the race to another creator; fall back to updating.
		return m, m.ApplyUpdate(p)
	}

	// Everything is validated before anything is stored so a failure
	// leaves no partial registration behind.
	user, haveUser := c.users.Load(userID.String())
	if !haveUser {
		user, err = model.NewUser(*p.User)
		if err != nil {
			return nil, err
		}
	}
	m, err := model.NewMember(user, guildID, p)
	if err != nil {
		return nil, err
	}
	if haveUser {
		if err := user.ApplyUpdate(*p.User); err != nil {
			return nil, err
		}
	} else {
		c.users.Store(userID.String(), user)
	}

	c.members.Store(key, m)
	c.refs[userID]++
	c.logger.Debug("registered member",
		zap.Stringer("guild_id", guildID),
		zap.Stringer("user_id", userID))
	return m, nil
}

// SetPresence replaces the presence of a registered member wholesale.
// It reports whether the member was known; an unknown member is not an
// error, the snapshot is simply dropped.
func (c *Cache) SetPresence(guildID, userID snowflake.ID, p model.PresencePayload) bool {
	m, ok := c.members.Load(memberKey(guildID, userID))
	if !ok {
		return false
	}
	m.SetPresence(p)
	return true
}

// RemoveMember drops the member registration for the pair and releases one
// reference to the underlying user. The user itself is evicted only when no
// member in any guild and no external holder references it anymore.
func (c *Cache) RemoveMember(guildID, userID snowflake.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.members.LoadAndDelete(memberKey(guildID, userID)); !ok {
		return false
	}
	c.releaseLocked(userID)
	return true
}

// RemoveGuild drops every member of a guild, releasing one user reference
// per removed member. It returns the number of members removed.
func (c *Cache) RemoveGuild(guildID snowflake.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	c.members.Range(func(key string, m *model.Member) bool {
		if m.GuildID() == guildID {
			c.members.Delete(key)
			c.releaseLocked(m.ID())
			removed++
		}
		return true
	})
	if removed > 0 {
		c.logger.Debug("removed guild members",
			zap.Stringer("guild_id", guildID),
			zap.Int("count", removed))
	}
	return removed
}

// Retain adds an external reference to a user (a message author held
// elsewhere, for example), keeping it alive across member removals. It
// reports whether the user was known.
func (c *Cache) Retain(id snowflake.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.users.Load(id.String()); !ok {
		return false
	}
	c.refs[id]++
	return true
}

// Release drops an external reference taken with Retain.
func (c *Cache) Release(id snowflake.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.refs[id]; !ok {
		return
	}
	c.releaseLocked(id)
}

// releaseLocked decrements a user's reference count and evicts the user
// once nothing references it. Callers hold c.mu.
func (c *Cache) releaseLocked(id snowflake.ID) {
	c.refs[id]--
	if c.refs[id] > 0 {
		return
	}
	delete(c.refs, id)
	c.users.Delete(id.String())
	c.logger.Debug("evicted user", zap.Stringer("user_id", id))
}

// User returns the interned canonical user for id. Absence is not an error.
func (c *Cache) User(id snowflake.ID) (*model.User, bool) {
	return c.users.Load(id.String())
}

// Member returns the registered member for the (guild, user) pair.
func (c *Cache) Member(guildID, userID snowflake.ID) (*model.Member, bool) {
	return c.members.Load(memberKey(guildID, userID))
}

// SetBotUser establishes the client's own account. The wrapped canonical
// user goes through the usual interning path and is pinned for the process
// lifetime. Establishing it twice is a programming error and fails with
// ErrDuplicateBotIdentity, leaving the first identity untouched.
func (c *Cache) SetBotUser(p model.BotUserPayload) (*model.BotUser, error) {
	c.botMu.Lock()
	defer c.botMu.Unlock()

	if c.bot != nil {
		return nil, fmt.Errorf("%w: id %s", model.ErrDuplicateBotIdentity, c.bot.ID())
	}

	user, err := c.ResolveUser(p.UserPayload)
	if err != nil {
		return nil, err
	}
	c.Retain(user.ID())

	c.bot = model.NewBotUser(user, p)
	c.logger.Info("bot identity established", zap.Stringer("user_id", user.ID()))
	return c.bot, nil
}

// BotUser returns the established self-account, if any.
func (c *Cache) BotUser() (*model.BotUser, bool) {
	c.botMu.Lock()
	defer c.botMu.Unlock()
	return c.bot, c.bot != nil
}

// Stats reports the current index sizes for the inspection surface.
type Stats struct {
	Users   int `json:"users"`
	Members int `json:"members"`
}

// Stats returns the current number of interned users and registered members.
func (c *Cache) Stats() Stats {
	return Stats{
		Users:   c.users.Size(),
		Members: c.members.Size(),
	}
}

func memberKey(guildID, userID snowflake.ID) string {
	return guildID.String() + ":" + userID.String()
}
