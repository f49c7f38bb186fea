package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// NewRouter builds the inspection API. mode is a gin mode string
// (debug, release, test). Extra middleware runs after logging and
// recovery.
func NewRouter(handler *Handler, logger *zap.Logger, mode string, extra ...gin.HandlerFunc) *gin.Engine {
	if mode != "" {
		gin.SetMode(mode)
	}

	r := gin.New()
	r.Use(RequestLogger(logger))
	r.Use(Recovery(logger))
	r.Use(extra...)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/v1")
	{
		api.GET("/users/:user_id", handler.GetUser)
		api.GET("/guilds/:guild_id/members/:user_id", handler.GetMember)
		api.GET("/bot", handler.GetBot)
		api.GET("/stats", handler.GetStats)
	}

	return r
}
