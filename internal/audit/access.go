package audit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"sessiond/internal/auth"
)

// Logger records one structured access entry per request. Entries are
// best-effort observers: nothing here may abort or fail the request.
type Logger struct {
	log zerolog.Logger
}

// NewLogger wraps the given zerolog sink, typically a dedicated access-log file.
func NewLogger(log zerolog.Logger) *Logger {
	return &Logger{log: log}
}

// Middleware emits an audit entry labelled with the given action before the
// handler runs, mirroring the actor, network origin, and request shape.
func (l *Logger) Middleware(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var actorID int64
		if principal, ok := auth.PractitionerFromContext(c); ok {
			actorID = principal.ID
		}

		params := zerolog.Dict()
		for _, p := range c.Params {
			params.Str(p.Key, p.Value)
		}

		l.log.Info().
			Str("request_id", uuid.NewString()).
			Int64("actor_id", actorID).
			Str("action", action).
			Str("ip_address", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Dict("params", params).
			Str("query", c.Request.URL.RawQuery).
			Msg("access")

		c.Next()
	}
}
