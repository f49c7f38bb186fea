package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	logger "github.com/Gopher0727/ChatState/middleware/log"
	"github.com/Gopher0727/ChatState/utils/ratelimit"
)

// RequestLogger logs every request with its latency and outcome. Each
// request gets a trace id, threaded through the request context and
// echoed in the X-Trace-ID header so a log line can be matched to a
// response.
func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		traceID := logger.NewTraceID()
		c.Request = c.Request.WithContext(logger.WithTraceID(c.Request.Context(), traceID))
		c.Writer.Header().Set("X-Trace-ID", traceID)

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("trace_id", traceID),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		}

		if statusCode >= 500 {
			log.Error("server error", fields...)
		} else if statusCode >= 400 {
			log.Warn("client error", fields...)
		} else {
			log.Info("request completed", fields...)
		}
	}
}

// RateLimit caps requests per client IP per minute.
func RateLimit(limiter ratelimit.Limiter, perMinute int, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		allowed, err := limiter.Allow(c.Request.Context(), key, perMinute, time.Minute)
		if err != nil {
			logger.Error("rate limit check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "rate limiter unavailable",
			})
			c.Abort()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Recovery turns handler panics into 500 responses instead of dropped
// connections.
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					zap.Any("error", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("method", c.Request.Method),
				)

				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
				c.Abort()
			}
		}()

		c.Next()
	}
}
