package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Abdullahkhan871/echoSphere-BACKEND/internal/service"
)

const userIDKey = "authUserID"

// Cookie read by the auth middleware; must match the handler's session
// cookie name.
const accessCookie = "es_access_token"

// Auth gates routes behind a valid session.
type Auth struct {
	Sessions *service.SessionService
}

// RequireSession resolves the access token from the session cookie or the
// Authorization header and attaches the user id. An expired token is
// reported as token_expired so clients know a silent refresh may recover;
// an invalid token is terminal.
func (m *Auth) RequireSession(c *gin.Context) {
	raw := tokenFromRequest(c)
	if raw == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Session required."})
		return
	}

	userID, err := m.Sessions.Authenticate(c.Request.Context(), raw)
	if err != nil {
		var svcErr *service.Error
		if errors.As(err, &svcErr) {
			c.AbortWithStatusJSON(svcErr.Status, gin.H{"error": svcErr.Code, "error_description": svcErr.Description})
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated", "error_description": "Session required."})
		return
	}

	c.Set(userIDKey, userID)
	c.Next()
}

// GetUserID returns the authenticated user id attached by RequireSession.
func GetUserID(c *gin.Context) (int64, bool) {
	value, ok := c.Get(userIDKey)
	if !ok {
		return 0, false
	}
	userID, ok := value.(int64)
	return userID, ok
}

func tokenFromRequest(c *gin.Context) string {
	if raw, err := c.Cookie(accessCookie); err == nil && raw != "" {
		return raw
	}
	header := c.GetHeader("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
