package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Payload types mirror the platform's JSON schema for "user", "guild member"
// and "presence" objects. They are produced by the transport layer and
// consumed by the cache; nothing here registers anything.

// Nullable distinguishes the three states a JSON field can be in: absent,
// explicit null, and carrying a value. Partial updates touch only fields
// that are present.
type Nullable[T any] struct {
	Present bool
	Valid   bool // false when the field was an explicit null
	Value   T
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Present = true
	if bytes.Equal(data, []byte("null")) {
		n.Valid = false
		return nil
	}
	if err := json.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func (n Nullable[T]) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// SomeValue builds a present, non-null Nullable. Used by tests and by
// callers assembling payloads programmatically.
func SomeValue[T any](v T) Nullable[T] {
	return Nullable[T]{Present: true, Valid: true, Value: v}
}

// UserPayload is the wire shape of a user object. ID and Discriminator are
// numeric strings; everything else is optional.
type UserPayload struct {
	ID            string           `json:"id"`
	Username      *string          `json:"username,omitempty"`
	Discriminator string           `json:"discriminator,omitempty"`
	Avatar        Nullable[string] `json:"avatar,omitzero"`
	Bot           *bool            `json:"bot,omitempty"`
}

// BotUserPayload extends the user shape with the self-account flags.
type BotUserPayload struct {
	UserPayload
	Verified   *bool `json:"verified,omitempty"`
	MFAEnabled *bool `json:"mfa_enabled,omitempty"`
}

// MemberPayload is the wire shape of a guild member object. Roles nil means
// the field was absent; an empty list means the member has no roles.
type MemberPayload struct {
	User         *UserPayload     `json:"user,omitempty"`
	Roles        []string         `json:"roles,omitempty"`
	JoinedAt     string           `json:"joined_at,omitempty"`
	Nick         Nullable[string] `json:"nick,omitzero"`
	PremiumSince Nullable[string] `json:"premium_since,omitzero"`
	Presence     *PresencePayload `json:"presence,omitempty"`
}

// PresencePayload is the wire shape of a presence object. Presence payloads
// are complete snapshots, never deltas.
type PresencePayload struct {
	Status     string            `json:"status"`
	Activities []ActivityPayload `json:"activities"`
}

// ActivityPayload describes one entry of a presence's activity list.
type ActivityPayload struct {
	Type    int    `json:"type"`
	Name    string `json:"name"`
	Details string `json:"details,omitempty"`
	State   string `json:"state,omitempty"`
	URL     string `json:"url,omitempty"`
}

// parseTimestamp parses an ISO-8601 timestamp string to a UTC instant.
func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
