package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PratikDhanave/incident-bot/internal/auth"
	"github.com/PratikDhanave/incident-bot/internal/config"
	"github.com/PratikDhanave/incident-bot/internal/handlers"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter wires public endpoints and the signed webhook.
// Public: /health, /ready
// Signed: /slack/events
func NewRouter(cfg config.Config, st Pinger, webhook *handlers.WebhookHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	// Liveness: confirms the process is running.
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// Readiness: reports whether the coordination store is reachable. The bot
	// still serves events when it is not (fail open), so this is informational
	// for operators rather than a gate.
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
		defer cancel()

		if err := st.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// Signed group verifies the platform's request signature.
	signed := r.Group("/")
	signed.Use(auth.SlackSignatureMiddleware(cfg.SlackSigningSecret))

	webhook.Register(signed)

	return r
}
