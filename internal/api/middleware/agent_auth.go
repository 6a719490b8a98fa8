package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/siteguard/siteguard-core/internal/models"
)

// AgentContextKey is where AgentAuth stores the authenticated agent.
const AgentContextKey = "agent"

// AgentAuthenticator resolves an API key to its agent.
type AgentAuthenticator interface {
	Authenticate(ctx context.Context, apiKey string) (*models.Agent, error)
}

// AgentAuth guards the agent surface with the X-Agent-Key header.
func AgentAuth(agents AgentAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Agent-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing X-Agent-Key header"})
			return
		}
		agent, err := agents.Authenticate(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid agent key"})
			return
		}
		c.Set(AgentContextKey, agent)
		c.Next()
	}
}

// AgentFrom extracts the authenticated agent placed by AgentAuth.
func AgentFrom(c *gin.Context) (*models.Agent, bool) {
	v, ok := c.Get(AgentContextKey)
	if !ok {
		return nil, false
	}
	agent, ok := v.(*models.Agent)
	return agent, ok
}
