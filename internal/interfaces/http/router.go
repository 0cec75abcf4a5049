// Package http serves the admin surface of the S2S agent: health, metrics,
// pprof, JWKS and cache maintenance.
package http

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/turtacn/s2s/internal/config"
	"github.com/turtacn/s2s/internal/infrastructure/ratelimit"
	"github.com/turtacn/s2s/internal/interfaces/http/handlers"
	"github.com/turtacn/s2s/internal/interfaces/http/middleware"
	"github.com/turtacn/s2s/pkg/logger"
)

// RouterDeps collects the handlers and collaborators of the admin router.
type RouterDeps struct {
	Health *handlers.HealthHandler
	Admin  *handlers.AdminHandler
	// JWKS is optional.
	JWKS *handlers.JWKSHandler
	// Verifier, when set, lets peers authenticate with S2S tokens.
	Verifier middleware.TokenVerifier
	Observer middleware.RequestObserver
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Router is the admin HTTP server.
// Router HTTP 路由器
type Router struct {
	engine *gin.Engine
	config config.AdminConfig
	deps   RouterDeps
	logger logger.Logger
	server *http.Server
}

// NewRouter creates the router and registers every route.
func NewRouter(cfg config.AdminConfig, deps RouterDeps, log logger.Logger) *Router {
	gin.SetMode(gin.ReleaseMode)
	r := &Router{
		engine: gin.New(),
		config: cfg,
		deps:   deps,
		logger: log.WithComponent("AdminRouter"),
	}
	r.setupRoutes()
	r.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           r.engine,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return r
}

// Handler exposes the engine, mainly for tests.
func (r *Router) Handler() http.Handler {
	return r.engine
}

func (r *Router) setupRoutes() {
	r.engine.Use(middleware.Recovery(r.logger))
	r.engine.Use(middleware.RequestID())
	r.engine.Use(middleware.Observability(otel.Tracer("s2s-admin"), r.deps.Observer))
	r.engine.Use(middleware.Logging(r.logger))

	r.engine.GET("/live", r.deps.Health.LivenessCheck)
	r.engine.GET("/ready", r.deps.Health.ReadinessCheck)

	gatherer := r.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	if r.deps.JWKS != nil {
		r.engine.GET("/.well-known/jwks.json", middleware.ETagCache(300), r.deps.JWKS.GetJWKS)
	}

	pool := ratelimit.NewTokenBucketPool(ratelimit.TokenBucketConfig{
		Capacity: r.config.RateLimitBurst,
		Rate:     r.config.RateLimitRPS,
	}, nil)
	admin := r.engine.Group("/admin",
		middleware.RateLimit(pool, r.logger),
		middleware.AdminAuth(r.config.Token, r.deps.Verifier, r.logger),
	)
	{
		admin.POST("/tokens/clear", r.deps.Admin.ClearTokens)
		admin.POST("/targets/invalidate", r.deps.Admin.InvalidateTarget)
		admin.POST("/targets/clear", r.deps.Admin.ClearTargets)
		admin.POST("/keys/compromise", r.deps.Admin.CompromiseKey)
	}
	pprof.RouteRegister(admin, "debug/pprof")

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":             "not_found",
			"error_description": "The requested resource was not found",
		})
	})
}

// Start serves until Stop is called. It blocks.
func (r *Router) Start() error {
	r.logger.Info(context.Background(), "starting admin server", logger.String("address", r.server.Addr))
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (r *Router) Stop(ctx context.Context) error {
	r.logger.Info(ctx, "stopping admin server")
	return r.server.Shutdown(ctx)
}
