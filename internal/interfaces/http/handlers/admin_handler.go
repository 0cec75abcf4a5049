// Package handlers implements the admin HTTP endpoints of the S2S agent.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/internal/interfaces/http/middleware"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// TokenClearer drops every cached bearer token.
type TokenClearer interface {
	ClearTokens() int
}

// TargetCache is the resolver's cache as the admin surface sees it.
type TargetCache interface {
	Invalidate(env, slug, version string)
	ClearAll()
	Len() int
}

// KeyCompromiser handles key compromise reports.
type KeyCompromiser interface {
	CompromiseKey(ctx context.Context, kid, reason string) error
}

// AdminHandler serves the cache maintenance endpoints.
type AdminHandler struct {
	tokens  TokenClearer
	targets TargetCache
	keys    KeyCompromiser
	logger  logger.Logger
}

// NewAdminHandler creates a handler. keys may be nil, which disables
// compromise reports.
func NewAdminHandler(tokens TokenClearer, targets TargetCache, keys KeyCompromiser, log logger.Logger) *AdminHandler {
	return &AdminHandler{tokens: tokens, targets: targets, keys: keys, logger: log.WithComponent("AdminHandler")}
}

// ClearTokens handles POST /admin/tokens/clear.
func (h *AdminHandler) ClearTokens(c *gin.Context) {
	n := h.tokens.ClearTokens()
	h.logger.Info(c.Request.Context(), "token cache cleared by admin", logger.Fields{
		"cleared": n, "caller": c.GetString(middleware.ContextKeyCaller),
	})
	c.JSON(http.StatusOK, dto.SuccessResponse(dto.ClearedResponse{Cache: "token", Cleared: n}, middleware.RequestIDFrom(c)))
}

// InvalidateTarget handles POST /admin/targets/invalidate.
func (h *AdminHandler) InvalidateTarget(c *gin.Context) {
	var req dto.InvalidateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.InvalidRequest("body", "expected JSON {env, slug, version}").WithCause(err))
		return
	}
	if err := req.Validate(); err != nil {
		h.fail(c, err)
		return
	}
	h.targets.Invalidate(req.Env, req.Slug, req.Version)
	h.logger.Info(c.Request.Context(), "target invalidated by admin", logger.Fields{
		"env": req.Env, "slug": req.Slug, "version": req.Version, "caller": c.GetString(middleware.ContextKeyCaller),
	})
	c.JSON(http.StatusOK, dto.SuccessResponse(req, middleware.RequestIDFrom(c)))
}

// ClearTargets handles POST /admin/targets/clear.
func (h *AdminHandler) ClearTargets(c *gin.Context) {
	n := h.targets.Len()
	h.targets.ClearAll()
	h.logger.Info(c.Request.Context(), "target cache cleared by admin", logger.Int("cleared", n))
	c.JSON(http.StatusOK, dto.SuccessResponse(dto.ClearedResponse{Cache: "target", Cleared: n}, middleware.RequestIDFrom(c)))
}

// CompromiseKey handles POST /admin/keys/compromise.
func (h *AdminHandler) CompromiseKey(c *gin.Context) {
	if h.keys == nil {
		h.fail(c, errors.PolicyBlocked("key lifecycle handling is not configured"))
		return
	}
	var req dto.CompromiseKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, errors.InvalidRequest("body", "expected JSON {kid, reason}").WithCause(err))
		return
	}
	if err := h.keys.CompromiseKey(c.Request.Context(), req.KID, req.Reason); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.SuccessResponse(req, middleware.RequestIDFrom(c)))
}

func (h *AdminHandler) fail(c *gin.Context, err error) {
	status := errors.HTTPStatusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "admin request failed", err)
	}
	c.JSON(status, dto.ErrorResponse(err, middleware.RequestIDFrom(c)))
}
