package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// ContextKeyCaller holds who passed AdminAuth: "admin" or the token's issuer.
const ContextKeyCaller = "caller"

// TokenVerifier verifies an inbound S2S bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, compact string) (*service.VerifiedClaims, error)
}

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], constants.BearerScheme) {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// AdminAuth accepts either the static admin token or, when verifier is set,
// an S2S token addressed to this service. With neither configured every
// request is refused.
func AdminAuth(adminToken string, verifier TokenVerifier, log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr := extractBearer(c.GetHeader(constants.HeaderAuthorization))
		if tokenStr == "" {
			deny(c, "missing bearer token")
			return
		}

		if adminToken != "" && subtle.ConstantTimeCompare([]byte(tokenStr), []byte(adminToken)) == 1 {
			c.Set(ContextKeyCaller, "admin")
			c.Next()
			return
		}

		if verifier != nil {
			claims, err := verifier.Verify(c.Request.Context(), tokenStr)
			if err == nil {
				c.Set(ContextKeyCaller, claims.Issuer)
				c.Next()
				return
			}
			log.Warn(c.Request.Context(), "admin call with rejected s2s token", logger.Fields{"error": err.Error()})
		}
		deny(c, "invalid credentials")
	}
}

func deny(c *gin.Context, reason string) {
	c.Header("WWW-Authenticate", constants.BearerScheme)
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.ErrorResponse(errors.InvalidRequest("authorization", reason), RequestIDFrom(c)))
}
