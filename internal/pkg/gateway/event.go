package gateway

import (
	"encoding/json"

	"github.com/Gopher0727/ChatState/internal/model"
)

// Event names dispatched to the cache. Anything else on the stream is
// ignored here; messages, channels and the rest belong to higher layers.
const (
	EventReady             = "READY"
	EventGuildMemberAdd    = "GUILD_MEMBER_ADD"
	EventGuildMemberUpdate = "GUILD_MEMBER_UPDATE"
	EventGuildMemberRemove = "GUILD_MEMBER_REMOVE"
	EventGuildMembersChunk = "GUILD_MEMBERS_CHUNK"
	EventGuildDelete       = "GUILD_DELETE"
	EventPresenceUpdate    = "PRESENCE_UPDATE"
)

// Event is one decoded gateway frame: an event name and its raw payload.
// The payload stays raw until the dispatcher knows which shape to decode.
type Event struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

// readyData is the slice of a READY payload this layer consumes.
type readyData struct {
	User model.BotUserPayload `json:"user"`
}

// memberEventData is a guild member event: the member payload fields plus
// the guild id the event is scoped to.
type memberEventData struct {
	model.MemberPayload
	GuildID string `json:"guild_id"`
}

// memberRemoveData identifies the member leaving a guild.
type memberRemoveData struct {
	GuildID string             `json:"guild_id"`
	User    *model.UserPayload `json:"user"`
}

// membersChunkData is a bulk member list for one guild.
type membersChunkData struct {
	GuildID string                `json:"guild_id"`
	Members []model.MemberPayload `json:"members"`
}

// guildDeleteData identifies the guild being removed.
type guildDeleteData struct {
	ID string `json:"id"`
}

// presenceUpdateData is a presence snapshot for one member. The nested user
// often carries only an id.
type presenceUpdateData struct {
	User       *model.UserPayload      `json:"user"`
	GuildID    string                  `json:"guild_id"`
	Status     string                  `json:"status"`
	Activities []model.ActivityPayload `json:"activities"`
}
