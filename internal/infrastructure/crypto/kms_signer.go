// Package crypto produces compact JWTs whose signatures come from a remote
// signing authority (Cloud KMS, Vault Transit, or an in-process key in tests).
package crypto

import (
	"context"
	"crypto"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc/status"

	"github.com/turtacn/s2s/internal/domain/models"
	"github.com/turtacn/s2s/internal/domain/service"
	"github.com/turtacn/s2s/pkg/constants"
	"github.com/turtacn/s2s/pkg/errors"
	"github.com/turtacn/s2s/pkg/logger"
)

const tracerName = "github.com/turtacn/s2s/internal/infrastructure/crypto"

// KMSSigner signs JWTs with a key held by a remote signing authority. The
// private key never leaves the authority; only digests are sent to it.
type KMSSigner struct {
	identity  models.SigningKeyIdentity
	authority service.SignAuthority
	method    jwt.SigningMethod
	hash      crypto.Hash
	timeout   time.Duration
	logger    logger.Logger
	metrics   service.Metrics
}

// KMSSignerOption customizes a KMSSigner.
type KMSSignerOption func(*KMSSigner)

// WithSignTimeout bounds every remote sign call. A non-positive d keeps
// constants.DefaultSignTimeout; a sign RPC is never unbounded.
func WithSignTimeout(d time.Duration) KMSSignerOption {
	return func(s *KMSSigner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSignerMetrics attaches a metrics collector.
func WithSignerMetrics(m service.Metrics) KMSSignerOption {
	return func(s *KMSSigner) { s.metrics = m }
}

// NewKMSSigner validates its dependencies up front; a zero identity or a nil
// authority is a ConfigurationError.
func NewKMSSigner(identity models.SigningKeyIdentity, authority service.SignAuthority, log logger.Logger, opts ...KMSSignerOption) (*KMSSigner, error) {
	if identity.IsZero() {
		return nil, errors.Configuration("s2s.signing_key", "signing key identity is required")
	}
	if authority == nil {
		return nil, errors.Configuration("signer.provider", "signing authority is required")
	}
	method := jwt.GetSigningMethod(identity.Algorithm())
	hash, ok := hashFor(identity.Algorithm())
	if method == nil || !ok {
		return nil, errors.Configuration("s2s.signing_key.algorithm",
			fmt.Sprintf("no signing method for %q", identity.Algorithm()))
	}
	if log == nil {
		log = logger.NewNoopLogger()
	}

	s := &KMSSigner{
		identity:  identity,
		authority: authority,
		method:    method,
		hash:      hash,
		timeout:   constants.DefaultSignTimeout,
		logger:    log.WithComponent("KMSSigner"),
		metrics:   service.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Alg returns the JWT algorithm of the signing key.
func (s *KMSSigner) Alg() string { return s.identity.Algorithm() }

// KID returns the key id of the signing key.
func (s *KMSSigner) KID() string { return s.identity.KID() }

// Identity returns the key identity.
func (s *KMSSigner) Identity() models.SigningKeyIdentity { return s.identity }

// Sign serializes header and payload, has the authority sign their digest and
// returns the compact token. The header's alg and kid are always this signer's.
func (s *KMSSigner) Sign(ctx context.Context, header, payload map[string]interface{}) (*models.SignedToken, error) {
	kid := s.KID()
	h := make(map[string]interface{}, len(header)+2)
	for k, v := range header {
		h[k] = v
	}
	if alg, ok := h["alg"]; ok && alg != s.Alg() {
		s.logger.Warn(ctx, "caller header alg differs from signer; using signer's", logger.Fields{"caller_alg": alg, "alg": s.Alg()})
	}
	if callerKid, ok := h["kid"]; ok && callerKid != kid {
		s.logger.Warn(ctx, "caller header kid differs from signer; using signer's", logger.Fields{"caller_kid": callerKid, "kid": kid})
	}
	h["alg"] = s.Alg()
	h["kid"] = kid

	tok := &jwt.Token{Header: h, Claims: jwt.MapClaims(payload), Method: s.method}
	signingInput, err := tok.SigningString()
	if err != nil {
		return nil, errors.Signing(kid, "serialize token", err)
	}
	hasher := s.hash.New()
	hasher.Write([]byte(signingInput))
	digest := service.Digest{Hash: s.hash, Value: hasher.Sum(nil)}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "kms.AsymmetricSign")
	span.SetAttributes(attribute.String("s2s.kid", kid), attribute.String("s2s.alg", s.Alg()))
	defer span.End()

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.logger.Debug(ctx, "kms sign begin", logger.Fields{"kid": kid, "digest_len": len(digest.Value)})
	start := time.Now()
	sig, err := s.authority.AsymmetricSign(callCtx, s.identity.ResourceName(), digest)
	elapsed := time.Since(start)
	if err == nil && len(sig) == 0 {
		err = fmt.Errorf("signing authority returned an empty signature")
	}
	if err == nil {
		sig, err = s.toJOSE(sig)
	}
	s.metrics.RecordSign(kid, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sign failed")
		code, details := rpcStatus(callCtx, err)
		s.logger.Error(ctx, "kms sign error", err, logger.Fields{
			"kid": kid, "grpc_code": code, "details": details, "duration_ms": elapsed.Milliseconds(),
		})
		return nil, errors.Signing(kid, "remote sign failed", err).
			WithMetadata("grpc_code", code).
			WithMetadata("details", details).
			WithMetadata("duration_ms", elapsed.Milliseconds())
	}

	s.logger.Info(ctx, "kms sign ok", logger.Fields{
		"kid": kid, "signature_len": len(sig), "duration_ms": elapsed.Milliseconds(),
	})

	compact := signingInput + "." + tok.EncodeSegment(sig)
	return &models.SignedToken{
		CompactToken: compact,
		Header:       models.TokenHeader{Alg: s.Alg(), Kid: kid},
		IssuedAtSec:  numericClaim(payload[constants.ClaimIssuedAt]),
		ExpiresAtSec: numericClaim(payload[constants.ClaimExpiresAt]),
		JTI:          stringClaim(payload[constants.ClaimJWTID]),
	}, nil
}

// toJOSE converts ECDSA signatures from the DER form KMS returns to the raw
// R||S form JWS requires. RSA signatures pass through.
func (s *KMSSigner) toJOSE(sig []byte) ([]byte, error) {
	switch s.Alg() {
	case string(constants.AlgorithmES256):
		return derToRaw(sig, 32)
	case string(constants.AlgorithmES384):
		return derToRaw(sig, 48)
	default:
		return sig, nil
	}
}

func hashFor(alg string) (crypto.Hash, bool) {
	switch constants.JWTAlgorithm(alg) {
	case constants.AlgorithmRS256, constants.AlgorithmPS256, constants.AlgorithmES256:
		return crypto.SHA256, true
	case constants.AlgorithmRS384, constants.AlgorithmPS384, constants.AlgorithmES384:
		return crypto.SHA384, true
	case constants.AlgorithmRS512, constants.AlgorithmPS512:
		return crypto.SHA512, true
	}
	return 0, false
}

// rpcStatus extracts a gRPC code and message for diagnostics. Deadline and
// cancellation of the call context are reported as such.
func rpcStatus(ctx context.Context, err error) (string, string) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		st := status.FromContextError(ctxErr)
		return st.Code().String(), st.Message()
	}
	st, _ := status.FromError(err)
	return st.Code().String(), st.Message()
}

func numericClaim(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()
		return i
	case *jwt.NumericDate:
		if n == nil {
			return 0
		}
		return n.Unix()
	}
	return 0
}

func stringClaim(v interface{}) string {
	s, _ := v.(string)
	return s
}
