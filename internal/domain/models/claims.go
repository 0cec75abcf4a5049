package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// cacheKeyLength is the number of hex characters kept from the SHA-256 digest.
const cacheKeyLength = 32

// ClaimTuple is the intent of a token request, independent of TTL.
// ClaimTuple 表示令牌请求的意图，与 TTL 无关。
type ClaimTuple struct {
	Audience    string
	Issuer      string
	Subject     string
	ExtraClaims map[string]interface{}
}

// canonicalTuple fixes the field order of the serialized key material.
// encoding/json sorts map keys, which makes ExtraClaims canonical at every depth.
type canonicalTuple struct {
	Kid   string                 `json:"kid"`
	Alg   string                 `json:"alg"`
	Aud   string                 `json:"aud"`
	Iss   string                 `json:"iss"`
	Sub   string                 `json:"sub"`
	Extra map[string]interface{} `json:"extra"`
}

// CacheKey derives a deterministic key for the tuple as signed by (kid, alg).
// CacheKey 根据 (kid, alg) 为该元组派生确定性的缓存键。
func (t ClaimTuple) CacheKey(kid, alg string) (string, error) {
	extra := t.ExtraClaims
	if extra == nil {
		extra = map[string]interface{}{}
	}
	raw, err := json.Marshal(canonicalTuple{
		Kid:   kid,
		Alg:   alg,
		Aud:   t.Audience,
		Iss:   t.Issuer,
		Sub:   t.Subject,
		Extra: extra,
	})
	if err != nil {
		return "", fmt.Errorf("serialize claim tuple: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:cacheKeyLength], nil
}
