package model

import (
	"strconv"
	"sync"
	"time"

	"github.com/Gopher0727/ChatState/utils/snowflake"
)

// Identity is the read surface shared by canonical users and every
// guild-scoped view wrapping them.
type Identity interface {
	ID() snowflake.ID
	CreatedAt() time.Time
	Username() string
	Discriminator() int
	AvatarHash() (string, bool)
	Bot() bool
}

var (
	_ Identity = (*User)(nil)
	_ Identity = (*Member)(nil)
	_ Identity = (*BotUser)(nil)
)

// User is the single guild-independent record for an account. The cache
// interns exactly one User per id and shares it by reference with every
// Member that wraps the account, so an update here is observed by all of
// them at once.
//
// Construction and mutation belong to the cache; nothing else in the system
// may create a User or call ApplyUpdate, which is what keeps two payloads
// for the same id from producing two desynchronized instances.
type User struct {
	// id and bot never change after creation and are read without locking.
	id  snowflake.ID
	bot bool

	// mu guards the mutable canonical fields so an update is observed
	// either fully applied or not at all.
	mu            sync.RWMutex
	username      string
	discriminator int
	avatarHash    string
	hasAvatar     bool
}

// NewUser builds a User from a raw user payload. The payload must carry a
// parseable id and discriminator; every other field has a permissive
// default. The new instance is not registered anywhere.
func NewUser(p UserPayload) (*User, error) {
	id, err := snowflake.ParseID(p.ID)
	if err != nil {
		return nil, malformedf("user id %q", p.ID)
	}
	disc, err := parseDiscriminator(p.Discriminator)
	if err != nil {
		return nil, err
	}

	u := &User{
		id:            id,
		discriminator: disc,
	}
	if p.Username != nil {
		u.username = *p.Username
	}
	if p.Avatar.Valid {
		u.avatarHash = p.Avatar.Value
		u.hasAvatar = true
	}
	if p.Bot != nil {
		u.bot = *p.Bot
	}
	return u, nil
}

// userUpdate is a fully validated partial update, ready to commit.
type userUpdate struct {
	p       UserPayload
	disc    int
	hasDisc bool
}

// parseUserUpdate validates a payload without touching any record, so
// callers can reject it before mutating anything.
func parseUserUpdate(p UserPayload) (userUpdate, error) {
	up := userUpdate{p: p}
	if p.Discriminator != "" {
		d, err := parseDiscriminator(p.Discriminator)
		if err != nil {
			return userUpdate{}, err
		}
		up.disc, up.hasDisc = d, true
	}
	return up, nil
}

// commitUpdate applies a validated update under the lock. It cannot fail.
func (u *User) commitUpdate(up userUpdate) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if up.p.Username != nil {
		u.username = *up.p.Username
	}
	if up.hasDisc {
		u.discriminator = up.disc
	}
	if up.p.Avatar.Present {
		u.avatarHash = up.p.Avatar.Value
		u.hasAvatar = up.p.Avatar.Valid
	}
}

// ApplyUpdate applies a fresher payload for the same account, touching only
// the fields the payload carries. The id and bot flag are immutable and
// ignored. On error the user is left unchanged.
func (u *User) ApplyUpdate(p UserPayload) error {
	up, err := parseUserUpdate(p)
	if err != nil {
		return err
	}
	u.commitUpdate(up)
	return nil
}

// ID returns the account's snowflake id.
func (u *User) ID() snowflake.ID { return u.id }

// CreatedAt derives the account creation instant from the id.
func (u *User) CreatedAt() time.Time { return u.id.Time() }

// Username returns the account's display name, empty if never seen.
func (u *User) Username() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.username
}

// Discriminator returns the 4-digit tag shown after the username.
func (u *User) Discriminator() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.discriminator
}

// AvatarHash returns the avatar reference and whether one is set.
func (u *User) AvatarHash() (string, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.avatarHash, u.hasAvatar
}

// Bot reports whether the account belongs to a bot.
func (u *User) Bot() bool { return u.bot }

// Snapshot reads all canonical fields under one lock acquisition.
func (u *User) Snapshot() UserSnapshot {
	u.mu.RLock()
	defer u.mu.RUnlock()

	s := UserSnapshot{
		ID:            u.id,
		Username:      u.username,
		Discriminator: u.discriminator,
		Bot:           u.bot,
		CreatedAt:     u.id.Time(),
	}
	if u.hasAvatar {
		avatar := u.avatarHash
		s.AvatarHash = &avatar
	}
	return s
}

// UserSnapshot is a consistent point-in-time copy of a User, safe to hand
// to encoders without further locking.
type UserSnapshot struct {
	ID            snowflake.ID `json:"id"`
	Username      string       `json:"username"`
	Discriminator int          `json:"discriminator"`
	AvatarHash    *string      `json:"avatar,omitempty"`
	Bot           bool         `json:"bot"`
	CreatedAt     time.Time    `json:"created_at"`
}

// BotUser is the distinguished self-account of the running client. It wraps
// the same interned User the rest of the cache shares, adding the flags only
// the self-account carries. Exactly one instance exists per process.
type BotUser struct {
	*User

	verified   bool
	mfaEnabled bool
}

// NewBotUser wraps an interned canonical user with the self-account flags.
func NewBotUser(user *User, p BotUserPayload) *BotUser {
	b := &BotUser{User: user}
	if p.Verified != nil {
		b.verified = *p.Verified
	}
	if p.MFAEnabled != nil {
		b.mfaEnabled = *p.MFAEnabled
	}
	return b
}

// Verified reports whether the self-account passed verification.
func (b *BotUser) Verified() bool { return b.verified }

// MFAEnabled reports whether multi-factor auth is enabled on the self-account.
func (b *BotUser) MFAEnabled() bool { return b.mfaEnabled }

func parseDiscriminator(s string) (int, error) {
	if s == "" {
		return 0, malformedf("missing discriminator")
	}
	d, err := strconv.Atoi(s)
	if err != nil || d < 0 {
		return 0, malformedf("discriminator %q", s)
	}
	return d, nil
}
