package ginserver

import (
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"rentme-deposits/internal/infra/security"
)

const principalContextKey = "deposits.principal"

// principal is the booking party behind a request.
type principal struct {
	ID   string
	Role string
}

type TokenVerifier interface {
	Verify(raw string) (*security.Claims, error)
}

// AuthMiddleware resolves a bearer token into a principal. A request with
// no token continues anonymously and the route decides; a token that fails
// verification is refused outright.
type AuthMiddleware struct {
	Tokens TokenVerifier
	Logger *slog.Logger
}

func (m AuthMiddleware) Handle(c *gin.Context) {
	raw := extractBearerToken(c.GetHeader("Authorization"))
	if raw == "" || m.Tokens == nil {
		c.Next()
		return
	}
	claims, err := m.Tokens.Verify(raw)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("bearer token rejected", "path", c.FullPath(), "error", err)
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_token"})
		return
	}
	c.Set(principalContextKey, principal{ID: claims.Subject, Role: claims.Role})
	c.Next()
}

// requireCaller writes a 401 and reports false when the request carries no
// authenticated party.
func requireCaller(c *gin.Context) (principal, bool) {
	v, _ := c.Get(principalContextKey)
	p, _ := v.(principal)
	if p.ID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "message": "bearer token required"})
		return principal{}, false
	}
	return p, true
}

func extractBearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
