package auth

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jobpsych/server/internal/module/quota"
	apperrors "github.com/jobpsych/server/internal/shared/errors"
	"github.com/jobpsych/server/internal/shared/response"
	"go.uber.org/zap"
)

const identityKey = "client_identity"

// Identity returns a middleware that classifies every request exactly once:
// a valid bearer token yields an authenticated identity, no token yields an
// anonymous identity keyed by client IP, and a malformed or forged token is
// rejected outright rather than silently demoted to anonymous.
func Identity(verifier *Verifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Set(identityKey, quota.Anonymous(ClientIP(c)))
			c.Next()
			return
		}

		tokenString := strings.TrimPrefix(header, "Bearer ")
		if tokenString == header {
			response.FromError(c, apperrors.Unauthorized("authorization header must be a bearer token"))
			c.Abort()
			return
		}

		claims, err := verifier.Verify(tokenString)
		if err != nil {
			logger.Debug("token rejected", zap.Error(err))
			response.FromError(c, apperrors.Unauthorized("could not validate credentials"))
			c.Abort()
			return
		}

		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// IdentityFrom returns the identity classified by the Identity middleware,
// falling back to an anonymous identity when the middleware did not run.
func IdentityFrom(c *gin.Context) quota.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(quota.Identity); ok {
			return id
		}
	}
	return quota.Anonymous(ClientIP(c))
}

// ClientIP resolves the caller's IP the way the upstream proxies present it:
// first X-Forwarded-For hop, then X-Real-IP, then the connection's remote
// address.
func ClientIP(c *gin.Context) string {
	if fwd := c.GetHeader("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(c.GetHeader("X-Real-IP")); real != "" {
		return real
	}
	if host, _, err := net.SplitHostPort(c.Request.RemoteAddr); err == nil {
		return host
	}
	return c.Request.RemoteAddr
}
