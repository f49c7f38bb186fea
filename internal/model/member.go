package model

import (
	"slices"
	"sync"
	"time"

	"github.com/Gopher0727/ChatState/utils/snowflake"
)

// Member is a guild-scoped view over a shared canonical User. Canonical
// fields are never copied into the Member: every read of username,
// discriminator, avatar or bot flag forwards to the one interned User, so
// two Members for the same account in different guilds always agree.
//
// At most one live Member exists per (guild, user) pair; the cache updates
// it in place so external holders observe fresh fields through their
// existing reference.
type Member struct {
	user     *User
	guildID  snowflake.ID
	joinedAt time.Time

	// mu guards the guild-local fields below.
	mu           sync.RWMutex
	roleIDs      []snowflake.ID // sorted, deduplicated
	nick         string
	hasNick      bool
	premiumSince time.Time
	hasPremium   bool
	presence     *Presence
}

// NewMember builds a Member wrapping an already-interned canonical user.
// The payload's guild-scoped fields are parsed here; the nested user
// payload has already been consumed by the cache to produce user. The new
// instance is not registered anywhere.
func NewMember(user *User, guildID snowflake.ID, p MemberPayload) (*Member, error) {
	if p.JoinedAt == "" {
		return nil, malformedf("missing joined_at for member %s", user.ID())
	}
	joinedAt, err := parseTimestamp(p.JoinedAt)
	if err != nil {
		return nil, malformedf("joined_at %q: %v", p.JoinedAt, err)
	}

	roleIDs, err := parseRoleIDs(p.Roles)
	if err != nil {
		return nil, err
	}

	m := &Member{
		user:     user,
		guildID:  guildID,
		joinedAt: joinedAt,
		roleIDs:  roleIDs,
	}
	if p.Nick.Valid {
		m.nick = p.Nick.Value
		m.hasNick = true
	}
	if p.PremiumSince.Valid {
		ts, err := parseTimestamp(p.PremiumSince.Value)
		if err != nil {
			return nil, malformedf("premium_since %q: %v", p.PremiumSince.Value, err)
		}
		m.premiumSince = ts
		m.hasPremium = true
	}
	if p.Presence != nil {
		m.presence = NewPresence(*p.Presence)
	}
	return m, nil
}

// memberUpdate is a fully validated partial update of the guild-local
// fields, ready to commit.
type memberUpdate struct {
	p          MemberPayload
	roleIDs    []snowflake.ID
	premium    time.Time
	hasPremium bool
}

func parseMemberUpdate(p MemberPayload) (memberUpdate, error) {
	up := memberUpdate{p: p}
	if p.Roles != nil {
		parsed, err := parseRoleIDs(p.Roles)
		if err != nil {
			return memberUpdate{}, err
		}
		up.roleIDs = parsed
	}
	if p.PremiumSince.Valid {
		ts, err := parseTimestamp(p.PremiumSince.Value)
		if err != nil {
			return memberUpdate{}, malformedf("premium_since %q: %v", p.PremiumSince.Value, err)
		}
		up.premium, up.hasPremium = ts, true
	}
	return up, nil
}

// commitUpdate applies a validated update under the lock. It cannot fail.
func (m *Member) commitUpdate(up memberUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if up.p.Roles != nil {
		m.roleIDs = up.roleIDs
	}
	if up.p.Nick.Present {
		m.nick = up.p.Nick.Value
		m.hasNick = up.p.Nick.Valid
	}
	if up.p.PremiumSince.Present {
		m.premiumSince = up.premium
		m.hasPremium = up.hasPremium
	}
	if up.p.Presence != nil {
		m.presence = NewPresence(*up.p.Presence)
	}
}

// ApplyUpdate applies a fresher member payload, touching only the fields it
// carries. A nested user payload updates the shared canonical user; the
// other fields land on the member. Presence is the exception to the
// partial-update rule: when present it replaces the previous value
// wholesale. The join timestamp is immutable and ignored.
//
// Both halves are validated before either record is touched, so a
// malformed payload leaves the member and its user exactly as they were.
func (m *Member) ApplyUpdate(p MemberPayload) error {
	up, err := parseMemberUpdate(p)
	if err != nil {
		return err
	}
	var uup userUpdate
	if p.User != nil {
		if uup, err = parseUserUpdate(*p.User); err != nil {
			return err
		}
	}

	if p.User != nil {
		m.user.commitUpdate(uup)
	}
	m.commitUpdate(up)
	return nil
}

// SetPresence replaces the member's presence wholesale.
func (m *Member) SetPresence(p PresencePayload) {
	presence := NewPresence(p)
	m.mu.Lock()
	m.presence = presence
	m.mu.Unlock()
}

// User returns the shared canonical user this member wraps.
func (m *Member) User() *User { return m.user }

// GuildID returns the guild this view belongs to.
func (m *Member) GuildID() snowflake.ID { return m.guildID }

// JoinedAt returns when the account joined the guild.
func (m *Member) JoinedAt() time.Time { return m.joinedAt }

// Canonical reads forward to the shared user.

func (m *Member) ID() snowflake.ID           { return m.user.ID() }
func (m *Member) CreatedAt() time.Time       { return m.user.CreatedAt() }
func (m *Member) Username() string           { return m.user.Username() }
func (m *Member) Discriminator() int         { return m.user.Discriminator() }
func (m *Member) AvatarHash() (string, bool) { return m.user.AvatarHash() }
func (m *Member) Bot() bool                  { return m.user.Bot() }

// RoleIDs returns a copy of the member's role-id set, sorted ascending.
func (m *Member) RoleIDs() []snowflake.ID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.roleIDs)
}

// HasRole reports whether the member carries the given role.
func (m *Member) HasRole(id snowflake.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, found := slices.BinarySearch(m.roleIDs, id)
	return found
}

// Nick returns the guild nickname and whether one is set.
func (m *Member) Nick() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nick, m.hasNick
}

// DisplayName returns the nickname when set, the canonical username
// otherwise.
func (m *Member) DisplayName() string {
	if nick, ok := m.Nick(); ok {
		return nick
	}
	return m.user.Username()
}

// PremiumSince returns when the member started boosting the guild, if ever.
func (m *Member) PremiumSince() (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.premiumSince, m.hasPremium
}

// Presence returns the member's current presence, nil when none was ever
// received. The returned value is immutable.
func (m *Member) Presence() *Presence {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presence
}

// Snapshot reads the guild-local fields under one lock acquisition and
// pairs them with a snapshot of the shared user.
func (m *Member) Snapshot() MemberSnapshot {
	user := m.user.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	s := MemberSnapshot{
		User:     user,
		GuildID:  m.guildID,
		RoleIDs:  slices.Clone(m.roleIDs),
		JoinedAt: m.joinedAt,
		Presence: m.presence,
	}
	if m.hasNick {
		nick := m.nick
		s.Nick = &nick
	}
	if m.hasPremium {
		premium := m.premiumSince
		s.PremiumSince = &premium
	}
	return s
}

// MemberSnapshot is a consistent point-in-time copy of a Member.
type MemberSnapshot struct {
	User         UserSnapshot   `json:"user"`
	GuildID      snowflake.ID   `json:"guild_id"`
	RoleIDs      []snowflake.ID `json:"roles"`
	JoinedAt     time.Time      `json:"joined_at"`
	Nick         *string        `json:"nick,omitempty"`
	PremiumSince *time.Time     `json:"premium_since,omitempty"`
	Presence     *Presence      `json:"presence,omitempty"`
}

// parseRoleIDs parses, sorts and deduplicates a role-id list. Duplicates
// collapse; order on the wire is irrelevant for membership semantics.
func parseRoleIDs(raw []string) ([]snowflake.ID, error) {
	if len(raw) == 0 {
		return []snowflake.ID{}, nil
	}
	ids := make([]snowflake.ID, 0, len(raw))
	for _, r := range raw {
		id, err := snowflake.ParseID(r)
		if err != nil {
			return nil, malformedf("role id %q", r)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return slices.Compact(ids), nil
}
