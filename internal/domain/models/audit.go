package models

import "time"

// IssuanceEvent records that a fresh token was minted. It never carries the
// token itself, only identifiers and timing.
// IssuanceEvent 记录一次新令牌签发，只包含标识与时间，绝不包含令牌本身。
type IssuanceEvent struct {
	Kid       string    `json:"kid"`
	Algorithm string    `json:"alg"`
	Audience  string    `json:"aud"`
	Issuer    string    `json:"iss"`
	Subject   string    `json:"sub,omitempty"`
	JTI       string    `json:"jti,omitempty"`
	IssuedAt  int64     `json:"iat"`
	ExpiresAt int64     `json:"exp"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

// KeyRotationEvent announces that a signing key version changed upstream.
// KeyRotationEvent 通告上游签名密钥版本发生了变更。
type KeyRotationEvent struct {
	// KeyName is "projects/P/locations/L/keyRings/R/cryptoKeys/K", without version.
	// KeyName 为不带版本的密钥资源名。
	KeyName    string    `json:"key_name"`
	OldVersion string    `json:"old_version,omitempty"`
	NewVersion string    `json:"new_version,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RotatedAt  time.Time `json:"rotated_at"`
}

// AffectsKey reports whether the event concerns the key behind identity.
func (e KeyRotationEvent) AffectsKey(identity SigningKeyIdentity) bool {
	if identity.IsZero() {
		return false
	}
	keyName := "projects/" + identity.Project() + "/locations/" + identity.Location() +
		"/keyRings/" + identity.KeyRing() + "/cryptoKeys/" + identity.Key()
	return e.KeyName == keyName
}
