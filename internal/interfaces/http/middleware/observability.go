package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RequestObserver records one served request.
type RequestObserver interface {
	ObserveAdminRequest(path, method string, status int, duration time.Duration)
}

// Observability starts a server span per request and records its metrics,
// labeled by route template to keep cardinality low.
func Observability(tracer trace.Tracer, observer RequestObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx, span := tracer.Start(c.Request.Context(), c.Request.Method+" "+c.FullPath(),
			trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "not_found"
		}
		if observer != nil {
			observer.ObserveAdminRequest(path, c.Request.Method, c.Writer.Status(), time.Since(start))
		}
		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", path),
			attribute.Int("http.status_code", c.Writer.Status()),
		)
	}
}
