package dto

import (
	"net/http"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/pkg/errors"
)

// InvalidateTargetRequest names one target cache entry.
type InvalidateTargetRequest struct {
	Env     string `json:"env"`
	Slug    string `json:"slug"`
	Version string `json:"version"`
}

// Validate reports the first missing field as an InvalidRequestError.
func (r InvalidateTargetRequest) Validate() error {
	switch {
	case r.Env == "":
		return errors.InvalidRequest("env", "must not be empty")
	case r.Slug == "":
		return errors.InvalidRequest("slug", "must not be empty")
	case r.Version == "":
		return errors.InvalidRequest("version", "must not be empty")
	}
	return nil
}

// ClearedResponse reports how many cache entries an admin action dropped.
type ClearedResponse struct {
	Cache   string `json:"cache"`
	Cleared int    `json:"cleared"`
}

// CompromiseKeyRequest reports a key that must no longer be trusted.
type CompromiseKeyRequest struct {
	KID    string `json:"kid"`
	Reason string `json:"reason,omitempty"`
}

// TokenResponse is what s2sctl token prints. The token itself is included
// only when the operator asks for it.
type TokenResponse struct {
	Audience  string `json:"aud"`
	Issuer    string `json:"iss"`
	KID       string `json:"kid"`
	Alg       string `json:"alg"`
	IssuedAt  int64  `json:"iat"`
	ExpiresAt int64  `json:"exp"`
	Token     string `json:"token,omitempty"`
}

// TargetResponse is a resolved target.
type TargetResponse struct {
	Env     string `json:"env"`
	Slug    string `json:"slug"`
	Version string `json:"version"`
	BaseURL string `json:"base_url"`
}

// NewTargetResponse converts a descriptor, preferring its resolved base URL.
func NewTargetResponse(t *models.TargetDescriptor) TargetResponse {
	base, err := t.ResolvedBaseURL()
	if err != nil {
		base = t.BaseURL
	}
	return TargetResponse{Env: t.Env, Slug: t.Slug, Version: t.Version, BaseURL: base}
}

// CallResponse is the outcome of s2sctl call.
type CallResponse struct {
	Status    int         `json:"status"`
	Headers   http.Header `json:"headers,omitempty"`
	Body      string      `json:"body"`
	RequestID string      `json:"request_id"`
}
