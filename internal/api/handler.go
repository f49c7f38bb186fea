package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/ChatState/internal/state"
	"github.com/Gopher0727/ChatState/utils/snowflake"
)

// Handler serves read-only views of the entity cache. All writes flow
// through the gateway; this surface only inspects.
type Handler struct {
	cache *state.Cache
}

func NewHandler(cache *state.Cache) *Handler {
	return &Handler{cache: cache}
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := snowflake.ParseID(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid " + name,
		})
		return 0, false
	}
	return id, true
}

// GetUser returns the canonical user record by id.
func (h *Handler) GetUser(c *gin.Context) {
	id, ok := parseIDParam(c, "user_id")
	if !ok {
		return
	}

	user, ok := h.cache.User(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "user not found",
		})
		return
	}
	c.JSON(http.StatusOK, user.Snapshot())
}

// GetMember returns one guild's view of a user.
func (h *Handler) GetMember(c *gin.Context) {
	guildID, ok := parseIDParam(c, "guild_id")
	if !ok {
		return
	}
	userID, ok := parseIDParam(c, "user_id")
	if !ok {
		return
	}

	member, ok := h.cache.Member(guildID, userID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "member not found",
		})
		return
	}
	c.JSON(http.StatusOK, member.Snapshot())
}

// GetBot returns the client's own account, once a READY has been seen.
func (h *Handler) GetBot(c *gin.Context) {
	bot, ok := h.cache.BotUser()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "bot user not registered",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":        bot.Snapshot(),
		"verified":    bot.Verified(),
		"mfa_enabled": bot.MFAEnabled(),
	})
}

// GetStats returns cache entry counts.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}
