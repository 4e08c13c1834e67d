package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/tashad19/Virtual-experiment-sandbox/internal/logger"
	"github.com/tashad19/Virtual-experiment-sandbox/internal/session"
)

const (
	workspaceKey = "workspace"
	// room for multipart boundaries and form fields around an upload
	multipartOverhead = 1 << 20
)

var defaultOrigins = []string{
	"http://localhost:5173",
	"http://localhost:8080",
}

func CORS(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		origins = defaultOrigins
	}
	config := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(config)
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	log = log.With("component", "http")
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		kv := []interface{}{
			"method", c.Request.Method,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			log.Error("request failed", append(kv, "error", c.Errors.String())...)
			return
		}
		log.Info("request", kv...)
	}
}

func MaxBodySize(limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limit > 0 {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

// RequireSession resolves the bearer token to the caller's workspace.
func RequireSession(sessions *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := sessions.Authenticate(bearerToken(c.GetHeader("Authorization")))
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Set(workspaceKey, ws)
		c.Next()
	}
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func workspace(c *gin.Context) *session.Workspace {
	return c.MustGet(workspaceKey).(*session.Workspace)
}
