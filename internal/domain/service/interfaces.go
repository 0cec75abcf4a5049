package service

import (
	"context"
	"crypto"
	"errors"
	"net/http"

	"github.com/turtacn/s2s/internal/domain/models"
)

// ErrServiceNotFound is returned by a DiscoveryAuthority that is reachable but
// has no entry for the requested key.
var ErrServiceNotFound = errors.New("service not found in discovery authority")

// Digest is a message digest and the hash that produced it.
// Digest 表示消息摘要及其所用的哈希算法。
type Digest struct {
	Hash  crypto.Hash
	Value []byte
}

//go:generate mockery --name SignAuthority --output mocks --outpkg mocks
// SignAuthority abstracts the remote asymmetric-sign operation of a KMS or HSM.
// SignAuthority 抽象了 KMS 或 HSM 的远程非对称签名操作。
type SignAuthority interface {
	// AsymmetricSign signs digest with the key version named keyVersionName.
	// AsymmetricSign 使用 keyVersionName 指定的密钥版本对摘要签名。
	AsymmetricSign(ctx context.Context, keyVersionName string, digest Digest) ([]byte, error)

	// GetPublicKey returns the public half of keyVersionName.
	// GetPublicKey 返回 keyVersionName 对应的公钥。
	GetPublicKey(ctx context.Context, keyVersionName string) (crypto.PublicKey, error)
}

// TokenSigner turns a header and payload into a compact signed JWT.
// TokenSigner 将头部与载荷转换为紧凑格式的已签名 JWT。
type TokenSigner interface {
	Sign(ctx context.Context, header, payload map[string]interface{}) (*models.SignedToken, error)
	Alg() string
	KID() string
}

// Minter mints one token per call, without caching.
type Minter interface {
	Mint(ctx context.Context, req models.MintRequest) (*models.SignedToken, error)
	Signer() TokenSigner
}

//go:generate mockery --name DiscoveryAuthority --output mocks --outpkg mocks
// DiscoveryAuthority is the configuration authority that knows where services live.
// DiscoveryAuthority 是记录各服务网络位置的配置权威源。
type DiscoveryAuthority interface {
	// LookupService returns the target for env/slug/version, ErrServiceNotFound
	// when the authority answered but had no match, or any other error when it
	// could not be reached.
	LookupService(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error)
}

// ServiceLister is implemented by authorities that can enumerate every service.
type ServiceLister interface {
	ListServices(ctx context.Context) ([]models.TargetDescriptor, error)
}

// Resolver resolves logical service names to network targets.
type Resolver interface {
	ResolveTarget(ctx context.Context, env, slug, version string) (*models.TargetDescriptor, error)
}

// IssuanceSink receives an event for every freshly minted token.
// IssuanceSink 接收每次新签发令牌的事件。
type IssuanceSink interface {
	RecordIssuance(ctx context.Context, event models.IssuanceEvent) error
}

// FindTarget picks the entry matching env/slug/version out of a full listing.
// It is the per-key lookup for authorities that can only list.
func FindTarget(targets []models.TargetDescriptor, env, slug, version string) (*models.TargetDescriptor, error) {
	for i := range targets {
		if targets[i].Matches(env, slug, version) {
			t := targets[i]
			return &t, nil
		}
	}
	return nil, ErrServiceNotFound
}

// KeyDenylist records kids that were reported compromised, shared between
// every process verifying tokens.
type KeyDenylist interface {
	Deny(ctx context.Context, kid, reason string) error
	IsDenied(ctx context.Context, kid string) (bool, error)
}

// PublicKeyResolver returns the verification key for a token's kid.
// PublicKeyResolver 根据令牌的 kid 返回验证公钥。
type PublicKeyResolver interface {
	PublicKey(ctx context.Context, kid string) (crypto.PublicKey, error)
}

// OutboundRequest is one composed S2S call, ready for a transport.
type OutboundRequest struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// OutboundResponse is what a transport got back. Body is raw and never parsed.
type OutboundResponse struct {
	Status  int
	Headers http.Header
	Body    []byte
}

//go:generate mockery --name Transport --output mocks --outpkg mocks
// Transport executes an outbound S2S call. Network and timeout failures are
// returned as errors; any HTTP status, including 5xx, is a response.
// Transport 执行出站服务间调用。
type Transport interface {
	Execute(ctx context.Context, req *OutboundRequest) (*OutboundResponse, error)
}
