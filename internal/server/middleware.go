package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/dudu/moodface/internal/logging"
)

// requestID reuses an incoming X-Request-ID or assigns a new one
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = logging.NewRequestID()
		}

		c.Set(logging.RequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(logging.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func accessLog(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			logging.RequestIDKey: c.GetString(logging.RequestIDKey),
			"method":             c.Request.Method,
			"path":               c.FullPath(),
			"status":             c.Writer.Status(),
			"latency":            time.Since(start),
			"client_ip":          c.ClientIP(),
		}

		entry := log.WithFields(fields)
		switch status := c.Writer.Status(); {
		case status >= 500:
			entry.Error("[server.accessLog] request completed")
		case status >= 400:
			entry.Warn("[server.accessLog] request completed")
		default:
			entry.Info("[server.accessLog] request completed")
		}
	}
}
