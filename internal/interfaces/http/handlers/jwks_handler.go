package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	jose "github.com/go-jose/go-jose/v4"

	"github.com/turtacn/s2s/internal/application/dto"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/internal/interfaces/http/middleware"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

// PublishedKey is a key this process signs with.
type PublishedKey struct {
	KID string
	Alg string
}

// JWKSHandler publishes the verification keys of this process's signer so
// peers can check the tokens it mints.
type JWKSHandler struct {
	keys      service.PublicKeyResolver
	published []PublishedKey
	logger    logger.Logger
}

// NewJWKSHandler creates a handler serving published.
func NewJWKSHandler(keys service.PublicKeyResolver, published []PublishedKey, log logger.Logger) *JWKSHandler {
	return &JWKSHandler{keys: keys, published: published, logger: log.WithComponent("JWKSHandler")}
}

// GetJWKS handles GET /.well-known/jwks.json.
func (h *JWKSHandler) GetJWKS(c *gin.Context) {
	jwks, err := h.build(c.Request.Context())
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to build jwks", err)
		c.JSON(errors.HTTPStatusOf(err), dto.ErrorResponse(err, middleware.RequestIDFrom(c)))
		return
	}
	c.JSON(http.StatusOK, jwks)
}

func (h *JWKSHandler) build(ctx context.Context) (*jose.JSONWebKeySet, error) {
	set := &jose.JSONWebKeySet{Keys: make([]jose.JSONWebKey, 0, len(h.published))}
	for _, k := range h.published {
		pub, err := h.keys.PublicKey(ctx, k.KID)
		if err != nil {
			return nil, errors.Signing(k.KID, "public key unavailable", err)
		}
		jwk := jose.JSONWebKey{Key: pub, KeyID: k.KID, Algorithm: k.Alg, Use: "sig"}
		if !jwk.Valid() {
			return nil, errors.Signing(k.KID, fmt.Sprintf("public key of type %T cannot be published", pub), nil)
		}
		set.Keys = append(set.Keys, jwk)
	}
	return set, nil
}
