package models

import (
	"time"
)

// TokenHeader is the subset of the JOSE header a caller may rely on.
// TokenHeader 是调用方可依赖的 JOSE 头部字段子集。
type TokenHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
}

// SignedToken is a compact JWT together with the timing facts the cache needs.
// Invariant: ExpiresAtSec > IssuedAtSec.
// SignedToken 是紧凑格式的 JWT 以及缓存所需的时间信息。不变式：ExpiresAtSec > IssuedAtSec。
type SignedToken struct {
	// CompactToken is base64url(header).base64url(payload).base64url(signature).
	// CompactToken 为 base64url(header).base64url(payload).base64url(signature)。
	CompactToken string
	Header       TokenHeader
	// IssuedAtSec is the iat claim in Unix seconds.
	// IssuedAtSec 为 iat 声明（Unix 秒）。
	IssuedAtSec int64
	// ExpiresAtSec is the exp claim in Unix seconds.
	// ExpiresAtSec 为 exp 声明（Unix 秒）。
	ExpiresAtSec int64
	// JTI is the unique token id, empty when the payload carried none.
	// JTI 为令牌唯一 ID，载荷中没有时为空。
	JTI string
}

// ExpiresAt returns the expiry as a time.Time.
func (t *SignedToken) ExpiresAt() time.Time {
	return time.Unix(t.ExpiresAtSec, 0)
}

// IssuedAt returns the issue time as a time.Time.
func (t *SignedToken) IssuedAt() time.Time {
	return time.Unix(t.IssuedAtSec, 0)
}

// FreshAt reports whether the token can still be served at now, i.e. now is
// strictly before the early-refresh boundary.
// FreshAt 判断在 now 时刻令牌是否仍可复用（早于提前刷新边界）。
func (t *SignedToken) FreshAt(now time.Time, earlyRefreshSec int64) bool {
	return now.Unix() < t.ExpiresAtSec-earlyRefreshSec
}

// MintRequest is everything needed to mint one token.
// MintRequest 包含签发一个令牌所需的全部信息。
type MintRequest struct {
	// TTLSec is how long a freshly minted token lives. Not part of cache identity.
	// TTLSec 为新签发令牌的有效期，不参与缓存键计算。
	TTLSec int64
	// Audience is the recipient service slug.
	// Audience 为接收方服务标识。
	Audience string
	Issuer   string
	Subject  string
	// NbfSkewSec back-dates nbf to tolerate receiver clock drift. Nil means "use the
	// cache's configured clock skew"; an explicit zero makes nbf equal iat.
	// NbfSkewSec 将 nbf 向前偏移以容忍接收方时钟漂移；为 nil 时使用缓存配置的时钟偏差，显式为零时 nbf 等于 iat。
	NbfSkewSec  *int64
	ExtraClaims map[string]interface{}
}

// Tuple returns the identity part of the request.
// Tuple 返回请求中参与缓存身份的部分。
func (r MintRequest) Tuple() ClaimTuple {
	return ClaimTuple{
		Audience:    r.Audience,
		Issuer:      r.Issuer,
		Subject:     r.Subject,
		ExtraClaims: r.ExtraClaims,
	}
}
