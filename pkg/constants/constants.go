// Package constants defines system-wide constants for the S2S trust layer.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// JWT Algorithm Constants
// ================================================================================

// JWTAlgorithm represents an asymmetric signing algorithm a KMS key can back.
type JWTAlgorithm string

const (
	// AlgorithmRS256 represents RSASSA-PKCS1-v1_5 with SHA-256
	AlgorithmRS256 JWTAlgorithm = "RS256"

	// AlgorithmRS384 represents RSASSA-PKCS1-v1_5 with SHA-384
	AlgorithmRS384 JWTAlgorithm = "RS384"

	// AlgorithmRS512 represents RSASSA-PKCS1-v1_5 with SHA-512
	AlgorithmRS512 JWTAlgorithm = "RS512"

	// AlgorithmPS256 represents RSASSA-PSS with SHA-256
	AlgorithmPS256 JWTAlgorithm = "PS256"

	// AlgorithmPS384 represents RSASSA-PSS with SHA-384
	AlgorithmPS384 JWTAlgorithm = "PS384"

	// AlgorithmPS512 represents RSASSA-PSS with SHA-512
	AlgorithmPS512 JWTAlgorithm = "PS512"

	// AlgorithmES256 represents ECDSA P-256 with SHA-256
	AlgorithmES256 JWTAlgorithm = "ES256"

	// AlgorithmES384 represents ECDSA P-384 with SHA-384
	AlgorithmES384 JWTAlgorithm = "ES384"
)

// SupportedAlgorithms is the closed set of algorithms a SigningKeyIdentity may declare.
var SupportedAlgorithms = []JWTAlgorithm{
	AlgorithmRS256, AlgorithmRS384, AlgorithmRS512,
	AlgorithmPS256, AlgorithmPS384, AlgorithmPS512,
	AlgorithmES256, AlgorithmES384,
}

// IsSupportedAlgorithm reports whether alg is part of SupportedAlgorithms.
func IsSupportedAlgorithm(alg string) bool {
	for _, a := range SupportedAlgorithms {
		if string(a) == alg {
			return true
		}
	}
	return false
}

// ================================================================================
// Token Constants
// ================================================================================

const (
	// TokenTypeJWT is the value of the "typ" header on every minted token
	TokenTypeJWT = "JWT"

	// KIDPrefix prefixes every key id derived from a KMS key identity
	KIDPrefix = "kms:"

	// BearerScheme is the Authorization scheme used for outbound S2S calls
	BearerScheme = "Bearer"

	// DefaultSignTimeout bounds a single remote sign RPC when no timeout is configured
	DefaultSignTimeout = 10 * time.Second
)

// Registered JWT claim names the minter owns. Extra claims may not override them.
const (
	ClaimIssuer    = "iss"
	ClaimSubject   = "sub"
	ClaimAudience  = "aud"
	ClaimIssuedAt  = "iat"
	ClaimNotBefore = "nbf"
	ClaimExpiresAt = "exp"
	ClaimJWTID     = "jti"
)

// ================================================================================
// Error Code Constants
// ================================================================================

// ErrorCode identifies a kind in the S2S error taxonomy
type ErrorCode string

const (
	// ErrCodeConfiguration marks a missing or invalid required setting
	ErrCodeConfiguration ErrorCode = "configuration_error"

	// ErrCodeInvalidRequest marks a malformed caller request
	ErrCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrCodeResolution marks a service discovery failure
	ErrCodeResolution ErrorCode = "resolution_error"

	// ErrCodeSigning marks a failed or empty remote signature
	ErrCodeSigning ErrorCode = "signing_error"

	// ErrCodeTransport marks a network or timeout failure on the outbound call
	ErrCodeTransport ErrorCode = "transport_error"

	// ErrCodePolicyBlocked marks an outbound call refused because S2S is disabled
	ErrCodePolicyBlocked ErrorCode = "policy_blocked"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type of keys stored in a context.Context by this module
type ContextKey string

const (
	// ContextKeyRequestID carries the correlation id of the current call
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID carries a trace id set by upstream middleware
	ContextKeyTraceID ContextKey = "trace_id"
)

// ================================================================================
// HTTP Header Constants
// ================================================================================

const (
	HeaderAuthorization = "Authorization"
	HeaderRequestID     = "X-Request-Id"
	HeaderContentType   = "Content-Type"
)

// HopByHopHeaders are never forwarded on an outbound S2S call.
var HopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Host",
	"Content-Length",
}

// ClientAuthHeaders carry the end-user's credentials and are stripped so the
// S2S bearer token is the only identity presented downstream.
var ClientAuthHeaders = []string{
	"Authorization",
	"Cookie",
	"X-Api-Key",
	"X-Forwarded-Authorization",
}

// ================================================================================
// Log Level Constants
// ================================================================================

// LogLevel represents logging verbosity
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)
