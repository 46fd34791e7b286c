package auth

import (
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/slack-go/slack"
)

// rawBodyCtxKey is the Gin context key holding the verified request body.
const rawBodyCtxKey = "raw_body"

// maxBodyBytes bounds webhook payloads.
const maxBodyBytes = 1 << 20

// SlackSignatureMiddleware verifies the X-Slack-Signature HMAC of every
// request against the signing secret. The body is read once, kept on the
// context for RawBody and restored for downstream handlers.
// An empty secret disables verification (local development).
func SlackSignatureMiddleware(signingSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		_ = c.Request.Body.Close()

		if signingSecret != "" {
			sv, err := slack.NewSecretsVerifier(c.Request.Header, signingSecret)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			if _, err := sv.Write(body); err != nil || sv.Ensure() != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}

		c.Set(rawBodyCtxKey, body)
		c.Request.Body = io.NopCloser(bytes.NewReader(body))
		c.Next()
	}
}

// RawBody returns the body captured by SlackSignatureMiddleware, or nil when
// the middleware did not run.
func RawBody(c *gin.Context) []byte {
	v, _ := c.Get(rawBodyCtxKey)
	b, _ := v.([]byte)
	return b
}
