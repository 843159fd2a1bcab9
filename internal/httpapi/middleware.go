package httpapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// metricsMiddleware labels requests by the matched route pattern so path
// parameters do not blow up cardinality.
func metricsMiddleware(m HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}

		c.Next()

		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, "+UserHeader)
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// requireUser rejects requests without an X-User-ID header and stores the
// trimmed id under "userID".
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(UserHeader))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": UserHeader + " header required"})
			return
		}
		c.Set("userID", id)
		c.Next()
	}
}
