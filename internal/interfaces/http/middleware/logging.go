// Package middleware holds the gin middleware of the admin surface.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/logger"
)

// RequestID propagates X-Request-Id, generating one when absent, into the
// request context and the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(constants.HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(constants.HeaderRequestID, id)
		c.Set(string(constants.ContextKeyRequestID), id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, id))
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID.
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(string(constants.ContextKeyRequestID))
}

// Logging logs every request once it completes.
func Logging(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info(c.Request.Context(), "request processed", logger.Merge(logger.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"client_ip": c.ClientIP(),
		}, logger.Duration(time.Since(start))))
	}
}

// Recovery turns a panic into a 500 response.
func Recovery(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "panic recovered", fmt.Errorf("panic: %v", r))
				c.AbortWithStatusJSON(http.StatusInternalServerError,
					dto.ErrorResponse(fmt.Errorf("internal error"), RequestIDFrom(c)))
			}
		}()
		c.Next()
	}
}
