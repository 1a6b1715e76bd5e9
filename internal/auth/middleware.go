package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const practitionerContextKey = "auth_practitioner"

// Middleware extracts the bearer credential and resolves it through the
// identity service, storing the practitioner on the context. A missing or
// malformed header is rejected without contacting the upstream.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "not authenticated"})
			return
		}

		principal, err := v.Verify(c.Request.Context(), token)
		if err != nil {
			var upstream *UpstreamStatusError
			if errors.As(err, &upstream) {
				c.AbortWithStatusJSON(upstream.StatusCode, gin.H{"message": upstream.Message})
				return
			}
			// Credential never logged, only the transport failure.
			v.log.Error().Err(err).Msg("identity service unreachable")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
			return
		}

		c.Set(practitionerContextKey, principal)
		c.Next()
	}
}

// PractitionerFromContext retrieves the authenticated practitioner.
func PractitionerFromContext(c *gin.Context) (*Practitioner, bool) {
	val, ok := c.Get(practitionerContextKey)
	if !ok {
		return nil, false
	}
	principal, ok := val.(*Practitioner)
	return principal, ok
}

func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
