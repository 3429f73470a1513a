package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/loyaltyrail/internal/auth/token"
	obscontext "github.com/smallbiznis/loyaltyrail/internal/observability/context"
	"go.uber.org/zap"
)

const contextClaimsKey = "token_claims"

// BearerAuth requires a valid HS256 bearer token.
func (s *Server) BearerAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := token.BearerToken(c.GetHeader("Authorization"))
		if err != nil {
			AbortWithError(c, err)
			return
		}
		claims, err := s.tokens.Verify(raw)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(contextClaimsKey, claims)
		ctx := obscontext.WithActor(c.Request.Context(), "token", claims.Subject)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func claimsFromContext(c *gin.Context) *token.Claims {
	if v, ok := c.Get(contextClaimsKey); ok {
		if claims, ok := v.(*token.Claims); ok {
			return claims
		}
	}
	return nil
}

// RateLimit throttles callers by token subject. Limiter failures let the
// request through.
func (s *Server) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := claimsFromContext(c)
		if s.limiter == nil || claims == nil {
			c.Next()
			return
		}

		res, err := s.limiter.Allow(c.Request.Context(), claims.Subject)
		if err != nil {
			s.log.Warn("http.ratelimit.unavailable", zap.String("subject", claims.Subject), zap.Error(err))
			c.Next()
			return
		}
		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
